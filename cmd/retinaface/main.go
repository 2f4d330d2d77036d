package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/config"
	"github.com/dudu/retinaface/internal/logger"
	"github.com/dudu/retinaface/internal/pipeline"
	"github.com/dudu/retinaface/internal/retinaface"
)

type Config struct {
	ConfigPath    string
	Network       string
	Weights       string
	ImagePath     string
	ConfThreshold float64
	NMSThreshold  float64
	PreNMSTopK    int
	PostNMSTopK   int
	VisThreshold  float64
	SaveImage     bool
	SaveCrops     int
	LogLevel      string
	LogFile       string
}

func main() {
	cfg := parseFlags()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "JSON config file (network preset when empty)")
	flag.StringVar(&cfg.Network, "network", config.DefaultNetwork, "Backbone network: "+strings.Join(config.Networks(), ", "))
	flag.StringVar(&cfg.Network, "n", config.DefaultNetwork, "Backbone network (shorthand)")
	flag.StringVar(&cfg.Weights, "weights", "", "Path to the exported ONNX model")
	flag.StringVar(&cfg.Weights, "w", "", "Path to the exported ONNX model (shorthand)")
	flag.StringVar(&cfg.ImagePath, "image-path", "./assets/test.jpg", "Path to the input image")
	flag.Float64Var(&cfg.ConfThreshold, "conf-threshold", 0.02, "Confidence threshold for filtering detections")
	flag.Float64Var(&cfg.NMSThreshold, "nms-threshold", 0.4, "Non-maximum suppression IoU threshold")
	flag.IntVar(&cfg.PreNMSTopK, "pre-nms-topk", 5000, "Maximum number of detections considered before NMS")
	flag.IntVar(&cfg.PostNMSTopK, "post-nms-topk", 750, "Number of highest scoring detections kept after NMS")
	flag.Float64Var(&cfg.VisThreshold, "vis-threshold", 0.6, "Visualization threshold for drawing detections")
	flag.Float64Var(&cfg.VisThreshold, "v", 0.6, "Visualization threshold (shorthand)")
	flag.BoolVar(&cfg.SaveImage, "save-image", false, "Save the detection results as an image")
	flag.BoolVar(&cfg.SaveImage, "s", false, "Save the detection results (shorthand)")
	flag.IntVar(&cfg.SaveCrops, "save-crops", 0, "Save landmark aligned crops of this size for visible faces (0 disables)")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level (default info, or "+config.EnvLogLevel+")")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to a rotated file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "RetinaFace - single image face detection\n\n")
		fmt.Fprintf(os.Stderr, "Usage: retinaface [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  retinaface --image-path photo.jpg --save-image\n")
		fmt.Fprintf(os.Stderr, "  retinaface -n resnet50 -w weights/retinaface_r50.onnx --image-path photo.jpg -s\n")
	}

	flag.Parse()
	return cfg
}

func run(cfg Config) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}

	level := cfg.LogLevel
	if level == "" {
		level = os.Getenv(config.EnvLogLevel)
	}
	log, err := logger.New(logger.Options{Level: level, File: cfg.LogFile})
	if err != nil {
		return err
	}

	s, err := config.Resolve(cfg.ConfigPath, overrides(cfg))
	if err != nil {
		return err
	}

	img := gocv.IMRead(cfg.ImagePath, gocv.IMReadColor)
	if img.Empty() {
		return fmt.Errorf("failed to load image: %s", cfg.ImagePath)
	}
	defer img.Close()

	p, err := pipeline.Open(s, pipeline.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	detections, err := p.Detect(img)
	if err != nil {
		return err
	}
	logDetections(log, detections, s.VisThreshold)

	log.WithFields(logrus.Fields{
		"image":     cfg.ImagePath,
		"size":      fmt.Sprintf("%dx%d", img.Cols(), img.Rows()),
		"faces":     len(detections),
		"detection": p.LastTiming().Detection,
	}).Info("detection finished")

	name := strings.TrimSuffix(filepath.Base(cfg.ImagePath), filepath.Ext(cfg.ImagePath))
	if cfg.SaveCrops > 0 {
		if err := saveCrops(log, img, detections, s.VisThreshold, cfg.SaveCrops, name); err != nil {
			return err
		}
	}

	if cfg.SaveImage {
		retinaface.DrawDetections(&img, detections, s.VisThreshold)
		out := fmt.Sprintf("%s_%s_out.jpg", name, s.Network)
		if !gocv.IMWrite(out, img) {
			return fmt.Errorf("failed to write %s", out)
		}
		log.WithField("path", out).Info("image saved")
	}
	return nil
}
