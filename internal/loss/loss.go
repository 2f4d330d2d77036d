// Package loss implements the multi-task training loss of the detection head:
// smooth-L1 box and landmark regression plus softmax cross-entropy with hard
// negative mining.
package loss

import (
	"fmt"
	"math"
	"sort"

	"github.com/dudu/retinaface/internal/assign"
	"github.com/dudu/retinaface/internal/head"
)

// Config holds the loss weights and the mining ratio
type Config struct {
	// NegPosRatio is the number of negatives kept per positive
	NegPosRatio int
	// BoxWeight scales the box term
	BoxWeight float32
	// LandmarkWeight scales the landmark term
	LandmarkWeight float32
	// MinNegatives is a floor on kept negatives; 0 keeps the plain ratio,
	// which retains no negatives for an image without faces
	MinNegatives int
}

// DefaultConfig returns the RetinaFace loss settings
func DefaultConfig() Config {
	return Config{
		NegPosRatio:    7,
		BoxWeight:      2,
		LandmarkWeight: 1,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.NegPosRatio < 0 {
		return fmt.Errorf("negative/positive ratio %d < 0", c.NegPosRatio)
	}
	if c.MinNegatives < 0 {
		return fmt.Errorf("min negatives %d < 0", c.MinNegatives)
	}
	if c.BoxWeight < 0 || c.LandmarkWeight < 0 {
		return fmt.Errorf("loss weights must be non-negative, got box=%v landmark=%v", c.BoxWeight, c.LandmarkWeight)
	}
	return nil
}

// Result is the loss of one image
type Result struct {
	Total    float32
	Box      float32
	Landmark float32
	Class    float32

	Positives int
	// Negatives is the number of mined background anchors in the class term
	Negatives int

	// Grad is dTotal/dRaw, shaped like the prediction
	Grad head.Prediction
}

// MultiTask computes the loss. It is stateless and safe for concurrent use.
type MultiTask struct {
	cfg Config
}

// New returns a MultiTask loss
func New(cfg Config) (*MultiTask, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid loss config: %w", err)
	}
	return &MultiTask{cfg: cfg}, nil
}

// Config returns the loss configuration
func (m *MultiTask) Config() Config {
	return m.cfg
}

// Compute evaluates the loss of pred against the assigned targets
func (m *MultiTask) Compute(pred head.Prediction, t assign.Targets) (Result, error) {
	n := len(t.Items)
	if err := pred.Validate(n); err != nil {
		return Result{}, err
	}
	if pred.Classes() != 2 {
		return Result{}, fmt.Errorf("%w: loss needs 2 class logits, got %d", head.ErrShapeMismatch, pred.Classes())
	}

	positives := 0
	for _, it := range t.Items {
		if it.Label == assign.Face {
			positives++
		}
	}

	res := Result{Grad: head.New(n, 2), Positives: positives}
	norm := float64(max(positives, 1))

	logits := pred.Class.Float32s()
	boxes := pred.Box.Float32s()
	lms := pred.Landmarks.Float32s()
	gClass := res.Grad.Class.Float32s()
	gBox := res.Grad.Box.Float32s()
	gLm := res.Grad.Landmarks.Float32s()

	boxScale := float64(m.cfg.BoxWeight) / norm
	lmScale := float64(m.cfg.LandmarkWeight) / norm

	var boxSum, lmSum, classSum float64
	negatives := make([]int, 0, n)
	ce := make([]float64, n)

	for i, it := range t.Items {
		l0, l1 := float64(logits[2*i]), float64(logits[2*i+1])

		switch it.Label {
		case assign.Ignore:
			continue
		case assign.Background:
			ce[i] = crossEntropy(l0, l1, 0)
			negatives = append(negatives, i)
			continue
		}

		ce[i] = crossEntropy(l0, l1, 1)
		classSum += ce[i]
		softmaxGrad(gClass[2*i:2*i+2], l0, l1, 1, norm)

		for k := 0; k < head.BoxDims; k++ {
			d := float64(boxes[i*head.BoxDims+k]) - float64(it.Box[k])
			boxSum += smoothL1(d)
			gBox[i*head.BoxDims+k] = float32(smoothL1Grad(d) * boxScale)
		}

		if !it.LandmarksValid {
			continue
		}
		for k := 0; k < head.LandmarkDims; k++ {
			d := float64(lms[i*head.LandmarkDims+k]) - float64(it.Landmarks[k])
			lmSum += smoothL1(d)
			gLm[i*head.LandmarkDims+k] = float32(smoothL1Grad(d) * lmScale)
		}
	}

	keep := m.negativeBudget(res.Positives, len(negatives))
	for _, i := range mineHardNegatives(negatives, ce, keep) {
		classSum += ce[i]
		softmaxGrad(gClass[2*i:2*i+2], float64(logits[2*i]), float64(logits[2*i+1]), 0, norm)
	}
	res.Negatives = keep

	res.Box = float32(boxSum / norm)
	res.Landmark = float32(lmSum / norm)
	res.Class = float32(classSum / norm)
	res.Total = float32(float64(m.cfg.BoxWeight)*boxSum/norm +
		float64(m.cfg.LandmarkWeight)*lmSum/norm +
		classSum/norm)

	return res, nil
}

// negativeBudget is ratio*positives, raised to MinNegatives, capped by available
func (m *MultiTask) negativeBudget(positives, available int) int {
	keep := m.cfg.NegPosRatio * positives
	if keep < m.cfg.MinNegatives {
		keep = m.cfg.MinNegatives
	}
	return min(keep, available)
}

// mineHardNegatives returns the keep candidates with the highest loss.
// Equal losses keep the lower anchor index first.
func mineHardNegatives(candidates []int, loss []float64, keep int) []int {
	if keep <= 0 {
		return nil
	}
	ranked := make([]int, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(a, b int) bool {
		return loss[ranked[a]] > loss[ranked[b]]
	})
	return ranked[:keep]
}

func smoothL1(d float64) float64 {
	ad := math.Abs(d)
	if ad < 1 {
		return 0.5 * d * d
	}
	return ad - 0.5
}

func smoothL1Grad(d float64) float64 {
	switch {
	case d >= 1:
		return 1
	case d <= -1:
		return -1
	default:
		return d
	}
}

// crossEntropy is -log softmax(l)[label] for two logits
func crossEntropy(l0, l1 float64, label int) float64 {
	m := math.Max(l0, l1)
	lse := m + math.Log(math.Exp(l0-m)+math.Exp(l1-m))
	if label == 1 {
		return lse - l1
	}
	return lse - l0
}

// softmaxGrad writes (softmax(l) - onehot(label)) / norm into g
func softmaxGrad(g []float32, l0, l1 float64, label int, norm float64) {
	p1 := 1 / (1 + math.Exp(l0-l1))
	p0 := 1 - p1
	if label == 1 {
		p1 -= 1
	} else {
		p0 -= 1
	}
	g[0] = float32(p0 / norm)
	g[1] = float32(p1 / norm)
}
