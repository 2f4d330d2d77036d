package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/assign"
	"github.com/dudu/retinaface/internal/codec"
	"github.com/dudu/retinaface/internal/detector"
	"github.com/dudu/retinaface/internal/loss"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnknownNetwork is returned for a backbone name with no preset
var ErrUnknownNetwork = errors.New("unknown network")

// DefaultNetwork is the backbone used when none is named
const DefaultNetwork = "mobilenetv2"

// Config is the full detection head configuration
type Config struct {
	Network      string         `json:"network" validate:"required"`
	Anchors      AnchorSettings `json:"anchors"`
	Variance     [2]float32     `json:"variance" validate:"dive,gt=0"`
	Assign       AssignSettings `json:"assign"`
	Loss         LossSettings   `json:"loss"`
	Decode       DecodeSettings `json:"decode"`
	Model        ModelSettings  `json:"model"`
	VisThreshold float32        `json:"vis_threshold" validate:"gte=0,lte=1"`
}

// AnchorSettings lists the anchor stages, finest stride first
type AnchorSettings struct {
	Stages []StageSettings `json:"stages" validate:"required,min=1,dive"`
}

// StageSettings is one feature map level; templates are [width, height]
// pairs in input pixels
type StageSettings struct {
	Stride    int          `json:"stride" validate:"gt=0"`
	Templates [][2]float32 `json:"templates" validate:"required,min=1,dive,dive,gt=0"`
}

// AssignSettings holds the IoU thresholds of anchor matching
type AssignSettings struct {
	PositiveThreshold float32 `json:"positive_threshold" validate:"gt=0,lte=1"`
	// NegativeThreshold opens an ignore band below the positive threshold,
	// 0 disables it
	NegativeThreshold float32 `json:"negative_threshold" validate:"gte=0,ltfield=PositiveThreshold"`
}

// LossSettings weights the loss terms and sets hard negative mining
type LossSettings struct {
	NegPosRatio    int     `json:"neg_pos_ratio" validate:"gte=0"`
	BoxWeight      float32 `json:"box_weight" validate:"gte=0"`
	LandmarkWeight float32 `json:"landmark_weight" validate:"gte=0"`
	MinNegatives   int     `json:"min_negatives" validate:"gte=0"`
}

// DecodeSettings controls score filtering and NMS at inference
type DecodeSettings struct {
	ConfThreshold float32 `json:"conf_threshold" validate:"gte=0,lte=1"`
	NMSThreshold  float32 `json:"nms_threshold" validate:"gte=0,lte=1"`
	PreNMSTopK    int     `json:"pre_nms_topk" validate:"gte=0"`
	PostNMSTopK   int     `json:"post_nms_topk" validate:"gte=0"`
	ScoreMode     string  `json:"score_mode" validate:"oneof=softmax sigmoid probability"`
}

// ModelSettings locates the exported network and the ONNX Runtime library
type ModelSettings struct {
	Path          string     `json:"path"`
	InputWidth    int        `json:"input_width" validate:"gte=0"`
	InputHeight   int        `json:"input_height" validate:"gte=0"`
	InputName     string     `json:"input_name" validate:"required"`
	LocName       string     `json:"loc_name" validate:"required"`
	ConfName      string     `json:"conf_name" validate:"required"`
	LandmarksName string     `json:"landmarks_name" validate:"required"`
	Mean          [3]float64 `json:"mean"`
	LibraryPath   string     `json:"library_path"`
	CoreML        bool       `json:"coreml"`
}

var weights = map[string]string{
	"mobilenetv1":      "retinaface_mv1.onnx",
	"mobilenetv1_0.25": "retinaface_mv1_0.25.onnx",
	"mobilenetv1_0.50": "retinaface_mv1_0.50.onnx",
	"mobilenetv2":      "retinaface_mv2.onnx",
	"resnet18":         "retinaface_r18.onnx",
	"resnet34":         "retinaface_r34.onnx",
	"resnet50":         "retinaface_r50.onnx",
}

// Networks lists the backbones with presets
func Networks() []string {
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ForNetwork returns the preset for a backbone. All backbones share the
// anchor layout; they differ in the weights file.
func ForNetwork(network string) (Config, error) {
	file, ok := weights[network]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, network)
	}

	return Config{
		Network: network,
		Anchors: anchorSettings(anchor.StrideSquare(
			[]int{8, 16, 32},
			[][]float32{{16, 32}, {64, 128}, {256, 512}},
		)),
		Variance: codec.DefaultVariance,
		Assign: AssignSettings{
			PositiveThreshold: 0.35,
		},
		Loss: LossSettings{
			NegPosRatio:    7,
			BoxWeight:      2,
			LandmarkWeight: 1,
		},
		Decode: DecodeSettings{
			ConfThreshold: 0.02,
			NMSThreshold:  0.4,
			PreNMSTopK:    5000,
			PostNMSTopK:   750,
			// the exported graph ends in a softmax
			ScoreMode: string(detector.ScoreProbability),
		},
		Model: ModelSettings{
			Path:          "weights/" + file,
			InputName:     "input",
			LocName:       "loc",
			ConfName:      "conf",
			LandmarksName: "landmarks",
			Mean:          [3]float64{104, 117, 123},
		},
		VisThreshold: 0.6,
	}, nil
}

// Default returns the DefaultNetwork preset
func Default() Config {
	cfg, _ := ForNetwork(DefaultNetwork)
	return cfg
}

// Load reads a JSON config file. Keys absent from the file keep the
// preset values of the named network.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a JSON config over its network's preset and validates it
func Parse(data []byte) (Config, error) {
	network := DefaultNetwork
	if n := json.Get(data, "network"); n.LastError() == nil && n.ToString() != "" {
		network = n.ToString()
	}

	cfg, err := ForNetwork(network)
	if err != nil {
		return Config{}, err
	}
	// replaced wholesale when present rather than merged element-wise
	cfg.Anchors.Stages = nil
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Anchors.Stages == nil {
		preset, _ := ForNetwork(network)
		cfg.Anchors = preset.Anchors
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Write encodes cfg as indented JSON
func (c Config) Write(w io.Writer) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

var validate = validator.New()

// Validate checks field ranges and the derived component configurations
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, ok := weights[c.Network]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, c.Network)
	}
	if err := c.AnchorConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.AssignConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.LossConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.DecodeConfig().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func anchorSettings(cfg anchor.Config) AnchorSettings {
	stages := make([]StageSettings, len(cfg.Stages))
	for i, s := range cfg.Stages {
		templates := make([][2]float32, len(s.Templates))
		for j, t := range s.Templates {
			templates[j] = [2]float32{t.Width, t.Height}
		}
		stages[i] = StageSettings{Stride: s.Stride, Templates: templates}
	}
	return AnchorSettings{Stages: stages}
}

// AnchorConfig converts the anchor settings
func (c Config) AnchorConfig() anchor.Config {
	stages := make([]anchor.Stage, len(c.Anchors.Stages))
	for i, s := range c.Anchors.Stages {
		templates := make([]anchor.Template, len(s.Templates))
		for j, t := range s.Templates {
			templates[j] = anchor.Template{Width: t[0], Height: t[1]}
		}
		stages[i] = anchor.Stage{Stride: s.Stride, Templates: templates}
	}
	return anchor.Config{Stages: stages}
}

// CodecVariance returns the box encoding variance
func (c Config) CodecVariance() codec.Variance {
	return codec.Variance(c.Variance)
}

// AssignConfig converts the matching thresholds
func (c Config) AssignConfig() assign.Config {
	return assign.Config{
		PositiveThreshold: c.Assign.PositiveThreshold,
		NegativeThreshold: c.Assign.NegativeThreshold,
	}
}

// LossConfig converts the loss settings
func (c Config) LossConfig() loss.Config {
	return loss.Config{
		NegPosRatio:    c.Loss.NegPosRatio,
		BoxWeight:      c.Loss.BoxWeight,
		LandmarkWeight: c.Loss.LandmarkWeight,
		MinNegatives:   c.Loss.MinNegatives,
	}
}

// DecodeConfig converts the decode settings
func (c Config) DecodeConfig() detector.DecodeConfig {
	return detector.DecodeConfig{
		ConfThreshold: c.Decode.ConfThreshold,
		NMSThreshold:  c.Decode.NMSThreshold,
		PreNMSTopK:    c.Decode.PreNMSTopK,
		PostNMSTopK:   c.Decode.PostNMSTopK,
		Score:         detector.ScoreMode(c.Decode.ScoreMode),
	}
}
