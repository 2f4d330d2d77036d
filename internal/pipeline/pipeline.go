package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/assign"
	"github.com/dudu/retinaface/internal/codec"
	"github.com/dudu/retinaface/internal/config"
	"github.com/dudu/retinaface/internal/detector"
	"github.com/dudu/retinaface/internal/head"
	"github.com/dudu/retinaface/internal/inference"
	"github.com/dudu/retinaface/internal/loss"
	"github.com/dudu/retinaface/internal/retinaface"
)

// ErrNoDetector is returned by image operations on a pipeline built
// without a model
var ErrNoDetector = errors.New("no detector loaded")

// Timing holds performance timing information
type Timing struct {
	Detection time.Duration
	Draw      time.Duration
	Total     time.Duration
}

// Sample is one training image: its resolution, ground truth and the
// network's raw outputs for it
type Sample struct {
	Width      int
	Height     int
	Faces      []assign.GroundTruthFace
	Prediction head.Prediction
}

// Pipeline owns the anchor cache and the components that share it
type Pipeline struct {
	config   config.Config
	anchors  *anchor.Cache
	codec    codec.Codec
	decoder  *detector.Decoder
	assigner *assign.Assigner
	loss     *loss.MultiTask
	detector FaceDetector
	workers  int
	log      logrus.FieldLogger

	lastTiming  Timing
	ownsRuntime bool
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger, the logrus standard logger otherwise
func WithLogger(log logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.log = log }
}

// WithWorkers bounds the samples scored concurrently by Loss
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithDetector attaches an already constructed detector
func WithDetector(d FaceDetector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// New builds the head components from cfg. No model is loaded; use Open
// or WithDetector for image operations.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	anchors, err := anchor.NewCache(cfg.AnchorConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create anchor cache: %w", err)
	}

	c := codec.New(cfg.CodecVariance())
	dec, err := detector.NewDecoder(cfg.DecodeConfig(), c)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	asg, err := assign.New(cfg.AssignConfig(), c)
	if err != nil {
		return nil, fmt.Errorf("failed to create assigner: %w", err)
	}
	mt, err := loss.New(cfg.LossConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create loss: %w", err)
	}

	p := &Pipeline{
		config:   cfg,
		anchors:  anchors,
		codec:    c,
		decoder:  dec,
		assigner: asg,
		loss:     mt,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Open builds the pipeline and loads the RetinaFace model named by cfg
func Open(cfg config.Config, opts ...Option) (*Pipeline, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := inference.Initialize(cfg.Model.LibraryPath); err != nil {
		return nil, fmt.Errorf("failed to initialize inference: %w", err)
	}
	p.ownsRuntime = true

	m := cfg.Model
	det, err := retinaface.New(retinaface.Options{
		ModelPath:     m.Path,
		InputWidth:    m.InputWidth,
		InputHeight:   m.InputHeight,
		InputName:     m.InputName,
		LocName:       m.LocName,
		ConfName:      m.ConfName,
		LandmarksName: m.LandmarksName,
		Mean:          m.Mean,
		CoreML:        m.CoreML,
	}, p.anchors, p.decoder, p.log)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	p.detector = det

	p.log.WithFields(logrus.Fields{
		"network": cfg.Network,
		"model":   m.Path,
	}).Info("model loaded")
	return p, nil
}

// Config returns the pipeline configuration
func (p *Pipeline) Config() config.Config {
	return p.config
}

// Anchors returns the anchor set for a resolution
func (p *Pipeline) Anchors(width, height int) (*anchor.Set, error) {
	return p.anchors.Get(width, height)
}

// Decode turns raw outputs for a width x height input into detections
func (p *Pipeline) Decode(pred head.Prediction, width, height int) ([]detector.Face, error) {
	anchors, err := p.anchors.Get(width, height)
	if err != nil {
		return nil, err
	}
	return p.decoder.Decode(pred, anchors)
}

// Targets assigns ground truth faces to the anchors of a resolution
func (p *Pipeline) Targets(width, height int, faces []assign.GroundTruthFace) (assign.Targets, error) {
	anchors, err := p.anchors.Get(width, height)
	if err != nil {
		return assign.Targets{}, err
	}
	return p.assigner.Assign(anchors, faces), nil
}

// Loss assigns targets for every sample and returns the batch mean loss
// with per-sample gradients
func (p *Pipeline) Loss(samples []Sample) (loss.BatchResult, error) {
	preds := make([]head.Prediction, len(samples))
	targets := make([]assign.Targets, len(samples))
	rejected := 0
	for i, s := range samples {
		t, err := p.Targets(s.Width, s.Height, s.Faces)
		if err != nil {
			return loss.BatchResult{}, fmt.Errorf("sample %d: %w", i, err)
		}
		preds[i] = s.Prediction
		targets[i] = t
		rejected += len(t.Rejected)
	}

	res, err := p.loss.ComputeBatch(preds, targets, p.workers)
	if err != nil {
		return loss.BatchResult{}, err
	}

	p.log.WithFields(logrus.Fields{
		"samples":   len(samples),
		"total":     res.Total,
		"positives": res.Positives,
		"negatives": res.Negatives,
		"rejected":  rejected,
	}).Debug("batch loss")
	return res, nil
}

// Detect finds faces in an image
func (p *Pipeline) Detect(img gocv.Mat) ([]detector.Face, error) {
	if p.detector == nil {
		return nil, ErrNoDetector
	}

	start := time.Now()
	faces, err := p.detector.Detect(img)
	p.lastTiming = Timing{Detection: time.Since(start)}
	p.lastTiming.Total = p.lastTiming.Detection
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}
	return faces, nil
}

// Process detects faces in a frame and draws the visible ones onto it
func (p *Pipeline) Process(frame *gocv.Mat) ([]detector.Face, error) {
	if p.detector == nil {
		return nil, ErrNoDetector
	}

	totalStart := time.Now()
	var timing Timing

	detectStart := time.Now()
	faces, err := p.detector.Detect(*frame)
	timing.Detection = time.Since(detectStart)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	drawStart := time.Now()
	retinaface.DrawDetections(frame, faces, p.config.VisThreshold)
	timing.Draw = time.Since(drawStart)

	timing.Total = time.Since(totalStart)
	p.lastTiming = timing

	return faces, nil
}

// LastTiming returns timing from the last Detect or Process call
func (p *Pipeline) LastTiming() Timing {
	return p.lastTiming
}

// Close releases pipeline resources
func (p *Pipeline) Close() error {
	var errs []error

	if p.detector != nil {
		if err := p.detector.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.ownsRuntime {
		if err := inference.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
