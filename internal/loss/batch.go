package loss

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dudu/retinaface/internal/assign"
	"github.com/dudu/retinaface/internal/head"
)

// BatchResult is the mean loss over a batch
type BatchResult struct {
	Total    float32
	Box      float32
	Landmark float32
	Class    float32

	Positives int
	Negatives int

	// Samples holds the per-image results in batch order
	Samples []Result
}

// ComputeBatch evaluates every sample independently on up to workers
// goroutines (GOMAXPROCS when workers <= 0) and averages the results.
func (m *MultiTask) ComputeBatch(preds []head.Prediction, targets []assign.Targets, workers int) (BatchResult, error) {
	if len(preds) != len(targets) {
		return BatchResult{}, fmt.Errorf("%w: %d predictions for %d targets", head.ErrShapeMismatch, len(preds), len(targets))
	}
	if len(preds) == 0 {
		return BatchResult{}, nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	samples := make([]Result, len(preds))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range preds {
		g.Go(func() error {
			r, err := m.Compute(preds[i], targets[i])
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			samples[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{Samples: samples}
	var total, box, lm, class float64
	for _, r := range samples {
		total += float64(r.Total)
		box += float64(r.Box)
		lm += float64(r.Landmark)
		class += float64(r.Class)
		out.Positives += r.Positives
		out.Negatives += r.Negatives
	}
	b := float64(len(samples))
	out.Total = float32(total / b)
	out.Box = float32(box / b)
	out.Landmark = float32(lm / b)
	out.Class = float32(class / b)
	return out, nil
}

// Grad returns the gradient of the batch mean with respect to sample i's
// raw predictions
func (b BatchResult) Grad(i int) (head.Prediction, error) {
	scale := float32(1) / float32(len(b.Samples))
	g := b.Samples[i].Grad

	class, err := g.Class.MulScalar(scale, true)
	if err != nil {
		return head.Prediction{}, fmt.Errorf("scale class gradient: %w", err)
	}
	box, err := g.Box.MulScalar(scale, true)
	if err != nil {
		return head.Prediction{}, fmt.Errorf("scale box gradient: %w", err)
	}
	lm, err := g.Landmarks.MulScalar(scale, true)
	if err != nil {
		return head.Prediction{}, fmt.Errorf("scale landmark gradient: %w", err)
	}
	return head.Prediction{Class: class, Box: box, Landmarks: lm}, nil
}
