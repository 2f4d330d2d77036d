// Package head holds the raw per-anchor outputs of the detection head.
package head

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when prediction tensors disagree with each
// other or with the anchor count
var ErrShapeMismatch = errors.New("prediction shape mismatch")

const (
	// BoxDims is the number of box offsets per anchor
	BoxDims = 4
	// LandmarkDims is the number of landmark offsets per anchor
	LandmarkDims = 10
)

// Prediction is the raw head output for one image.
// Class is [N,C] with C=2 (background, face) or C=1 (face logit),
// Box is [N,4] and Landmarks is [N,10].
type Prediction struct {
	Class     *tensor.Dense
	Box       *tensor.Dense
	Landmarks *tensor.Dense
}

// New allocates a zeroed prediction for n anchors with classes columns
func New(n, classes int) Prediction {
	return Prediction{
		Class:     tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, classes)),
		Box:       tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, BoxDims)),
		Landmarks: tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(n, LandmarkDims)),
	}
}

// FromSlices wraps flat row-major buffers without copying.
// The class column count is inferred from len(class)/n.
func FromSlices(class, box, landmarks []float32) (Prediction, error) {
	if len(box)%BoxDims != 0 {
		return Prediction{}, fmt.Errorf("%w: box buffer length %d", ErrShapeMismatch, len(box))
	}
	n := len(box) / BoxDims
	if len(landmarks) != n*LandmarkDims {
		return Prediction{}, fmt.Errorf("%w: landmark buffer length %d for %d anchors", ErrShapeMismatch, len(landmarks), n)
	}
	if n == 0 || len(class)%n != 0 {
		return Prediction{}, fmt.Errorf("%w: class buffer length %d for %d anchors", ErrShapeMismatch, len(class), n)
	}
	classes := len(class) / n
	if classes != 1 && classes != 2 {
		return Prediction{}, fmt.Errorf("%w: %d class columns", ErrShapeMismatch, classes)
	}

	return Prediction{
		Class:     tensor.New(tensor.WithShape(n, classes), tensor.WithBacking(class)),
		Box:       tensor.New(tensor.WithShape(n, BoxDims), tensor.WithBacking(box)),
		Landmarks: tensor.New(tensor.WithShape(n, LandmarkDims), tensor.WithBacking(landmarks)),
	}, nil
}

// Len returns the anchor count N
func (p Prediction) Len() int {
	if p.Box == nil {
		return 0
	}
	return p.Box.Shape()[0]
}

// Classes returns the class column count
func (p Prediction) Classes() int {
	if p.Class == nil || len(p.Class.Shape()) < 2 {
		return 0
	}
	return p.Class.Shape()[1]
}

// Validate checks all three tensors against n anchors
func (p Prediction) Validate(n int) error {
	if p.Class == nil || p.Box == nil || p.Landmarks == nil {
		return fmt.Errorf("%w: missing tensor", ErrShapeMismatch)
	}
	if err := checkShape("box", p.Box, n, BoxDims); err != nil {
		return err
	}
	if err := checkShape("landmarks", p.Landmarks, n, LandmarkDims); err != nil {
		return err
	}
	c := p.Classes()
	if c != 1 && c != 2 {
		return fmt.Errorf("%w: class shape %v", ErrShapeMismatch, p.Class.Shape())
	}
	return checkShape("class", p.Class, n, c)
}

func checkShape(name string, t *tensor.Dense, rows, cols int) error {
	s := t.Shape()
	if len(s) != 2 || s[0] != rows || s[1] != cols {
		return fmt.Errorf("%w: %s shape %v, want (%d, %d)", ErrShapeMismatch, name, s, rows, cols)
	}
	if t.Dtype() != tensor.Float32 {
		return fmt.Errorf("%w: %s dtype %v", ErrShapeMismatch, name, t.Dtype())
	}
	return nil
}

// ClassRow returns the class values of anchor i
func (p Prediction) ClassRow(i int) []float32 {
	c := p.Classes()
	return p.Class.Float32s()[i*c : (i+1)*c]
}

// BoxRow returns the box offsets of anchor i
func (p Prediction) BoxRow(i int) [BoxDims]float32 {
	var out [BoxDims]float32
	copy(out[:], p.Box.Float32s()[i*BoxDims:])
	return out
}

// LandmarkRow returns the landmark offsets of anchor i
func (p Prediction) LandmarkRow(i int) [LandmarkDims]float32 {
	var out [LandmarkDims]float32
	copy(out[:], p.Landmarks.Float32s()[i*LandmarkDims:])
	return out
}
