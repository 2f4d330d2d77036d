package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/camera"
	"github.com/dudu/retinaface/internal/config"
	"github.com/dudu/retinaface/internal/logger"
	"github.com/dudu/retinaface/internal/pipeline"
	"github.com/dudu/retinaface/internal/ui"
)

func init() {
	// Lock the main goroutine to the main OS thread.
	// This is required on macOS for OpenCV's highgui (window creation).
	runtime.LockOSThread()
}

type Config struct {
	ConfigPath    string
	Network       string
	Weights       string
	Source        string
	Width         int
	Height        int
	ConfThreshold float64
	NMSThreshold  float64
	PreNMSTopK    int
	PostNMSTopK   int
	VisThreshold  float64
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
	flag.StringVar(&cfg.Network, "network", "resnet34", "Backbone network: "+strings.Join(config.Networks(), ", "))
	flag.StringVar(&cfg.Weights, "weights", "", "Path to the exported ONNX model")
	flag.StringVar(&cfg.Weights, "w", "", "Path to the exported ONNX model (shorthand)")
	flag.StringVar(&cfg.Source, "camera", "0", "Camera device index or video file")
	flag.StringVar(&cfg.Source, "c", "0", "Camera device index or video file (shorthand)")
	flag.IntVar(&cfg.Width, "width", 0, "Requested capture width (device default when 0)")
	flag.IntVar(&cfg.Height, "height", 0, "Requested capture height (device default when 0)")
	flag.Float64Var(&cfg.ConfThreshold, "conf-threshold", 0.4, "Confidence threshold for filtering detections")
	flag.Float64Var(&cfg.NMSThreshold, "nms-threshold", 0.4, "Non-maximum suppression IoU threshold")
	flag.IntVar(&cfg.PreNMSTopK, "pre-nms-topk", 5000, "Maximum number of detections considered before NMS")
	flag.IntVar(&cfg.PostNMSTopK, "post-nms-topk", 750, "Number of highest scoring detections kept after NMS")
	flag.Float64Var(&cfg.VisThreshold, "vis-threshold", 0.6, "Visualization threshold for drawing detections")
	flag.Float64Var(&cfg.VisThreshold, "v", 0.6, "Visualization threshold (shorthand)")
	flag.StringVar(&cfg.LogLevel, "log-level", "", "Log level (default info, or "+config.EnvLogLevel+")")
	flag.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to a rotated file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "RetinaFace webcam - live face detection preview\n\n")
		fmt.Fprintf(os.Stderr, "Usage: webcam [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  webcam -w weights/retinaface_r34.onnx\n")
		fmt.Fprintf(os.Stderr, "  webcam --network mobilenetv2 --camera clip.mp4 --width 640 --height 480\n")
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

	p, err := pipeline.Open(s, pipeline.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	defer p.Close()

	cam, err := camera.Open(cfg.Source, cfg.Width, cfg.Height)
	if err != nil {
		return err
	}
	defer cam.Close()
	log.WithFields(logrus.Fields{
		"source": cam.Source(),
		"size":   fmt.Sprintf("%dx%d", cam.Width(), cam.Height()),
	}).Info("capture opened")

	window := ui.NewWindow("Webcam Inference")
	defer window.Close()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	frame := gocv.NewMat()
	defer frame.Close()

	log.Info("running, press 'q' to quit")

	for {
		select {
		case <-sigChan:
			log.Info("shutting down")
			return nil
		default:
		}

		if !cam.Read(&frame) {
			log.WithField("frames", cam.Frames()).Warn("could not read frame")
			return nil
		}

		faces, err := p.Process(&frame)
		if err != nil {
			log.WithError(err).Warn("frame skipped")
			continue
		}

		window.Show(&frame, len(faces), p.LastTiming().Detection)
		// WaitKey must be called to process window events on macOS
		if ui.IsQuit(window.WaitKey(1)) {
			log.WithFields(logrus.Fields{
				"frames": cam.Frames(),
				"fps":    window.FPS(),
			}).Info("quitting")
			return nil
		}
	}
}
