package detector

import (
	"fmt"
	"math"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/codec"
	"github.com/dudu/retinaface/internal/head"
)

// DecodeConfig holds post-processing settings
type DecodeConfig struct {
	// ConfThreshold keeps anchors scoring strictly above it
	ConfThreshold float32
	// NMSThreshold is the IoU above which lower scored faces are suppressed
	NMSThreshold float32
	// PreNMSTopK bounds the candidates entering NMS, 0 for no limit
	PreNMSTopK int
	// PostNMSTopK bounds the returned faces, 0 for no limit
	PostNMSTopK int
	Score       ScoreMode
}

// DefaultDecodeConfig returns the single image detection defaults
func DefaultDecodeConfig() DecodeConfig {
	return DecodeConfig{
		ConfThreshold: 0.02,
		NMSThreshold:  0.4,
		PreNMSTopK:    5000,
		PostNMSTopK:   750,
		Score:         ScoreSoftmax,
	}
}

// Validate checks the configuration
func (c DecodeConfig) Validate() error {
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("confidence threshold %v out of [0,1]", c.ConfThreshold)
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms threshold %v out of [0,1]", c.NMSThreshold)
	}
	if c.PreNMSTopK < 0 || c.PostNMSTopK < 0 {
		return fmt.Errorf("top-k limits must be non-negative, got %d/%d", c.PreNMSTopK, c.PostNMSTopK)
	}
	switch c.Score {
	case ScoreSoftmax, ScoreSigmoid, ScoreProbability:
	default:
		return fmt.Errorf("unknown score mode %q", c.Score)
	}
	return nil
}

// Decoder turns raw head outputs into deduplicated faces
type Decoder struct {
	cfg   DecodeConfig
	codec codec.Codec
}

// NewDecoder creates a decoder
func NewDecoder(cfg DecodeConfig, c codec.Codec) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decode config: %w", err)
	}
	return &Decoder{cfg: cfg, codec: c}, nil
}

// Config returns the decoder configuration
func (d *Decoder) Config() DecodeConfig {
	return d.cfg
}

// Decode scores, decodes and suppresses pred. Boxes and landmarks are in
// pixels of the resolution the anchor set was generated for, boxes clamped
// to that image.
func (d *Decoder) Decode(pred head.Prediction, anchors *anchor.Set) ([]Face, error) {
	if err := pred.Validate(anchors.Len()); err != nil {
		return nil, err
	}

	faces := d.candidates(pred, anchors)
	sortFaces(faces)
	if d.cfg.PreNMSTopK > 0 && len(faces) > d.cfg.PreNMSTopK {
		faces = faces[:d.cfg.PreNMSTopK]
	}

	faces = NMS(faces, d.cfg.NMSThreshold)

	if d.cfg.PostNMSTopK > 0 && len(faces) > d.cfg.PostNMSTopK {
		faces = faces[:d.cfg.PostNMSTopK]
	}
	return faces, nil
}

// candidates decodes every anchor scoring above the threshold, in anchor order
func (d *Decoder) candidates(pred head.Prediction, anchors *anchor.Set) []Face {
	w, h := float32(anchors.Width()), float32(anchors.Height())

	var faces []Face
	for i := 0; i < anchors.Len(); i++ {
		score := d.score(pred.ClassRow(i))
		if !(score > d.cfg.ConfThreshold) {
			continue
		}

		a := anchors.At(i)
		box := d.codec.Decode(a, pred.BoxRow(i)).Scale(w, h).Clamp(w, h)
		lm := d.codec.DecodeLandmarks(a, pred.LandmarkRow(i)).Scale(w, h)

		faces = append(faces, Face{
			BoundingBox: box,
			Landmarks:   lm,
			Score:       score,
			Index:       i,
		})
	}
	return faces
}

func (d *Decoder) score(row []float32) float32 {
	face := row[len(row)-1]
	switch d.cfg.Score {
	case ScoreProbability:
		return face
	case ScoreSigmoid:
		return sigmoid(face)
	}
	if len(row) == 1 {
		return sigmoid(face)
	}
	// two-way softmax
	return sigmoid(face - row[0])
}

func sigmoid(x float32) float32 {
	return 1.0 / (1.0 + float32(math.Exp(float64(-x))))
}

// Rescale maps faces by sx, sy, e.g. from network input to source image pixels
func Rescale(faces []Face, sx, sy float32) []Face {
	out := make([]Face, len(faces))
	for i, f := range faces {
		f.BoundingBox = f.BoundingBox.Scale(sx, sy)
		f.Landmarks = f.Landmarks.Scale(sx, sy)
		out[i] = f
	}
	return out
}

// Visible returns the faces scoring at least threshold
func Visible(faces []Face, threshold float32) []Face {
	out := make([]Face, 0, len(faces))
	for _, f := range faces {
		if f.Score >= threshold {
			out = append(out, f)
		}
	}
	return out
}
