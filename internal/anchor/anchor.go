// Package anchor generates the prior boxes that index a dense detection head.
//
// Anchors are produced per feature-map stage in raster order, finest stride
// first, with the configured templates in order inside every cell. The
// resulting order is the contract with the head's output rows: row i of every
// prediction tensor refers to anchor i.
package anchor

import (
	"errors"
	"fmt"

	"gorgonia.org/tensor"

	"github.com/dudu/retinaface/internal/geom"
)

// ErrInvalidConfig is returned for configurations that cannot produce anchors
var ErrInvalidConfig = errors.New("invalid anchor config")

// Anchor is a prior box in normalized center form
type Anchor struct {
	CX, CY float32
	W, H   float32
}

// Box returns the anchor in corner form
func (a Anchor) Box() geom.BoundingBox {
	return geom.BoundingBox{
		X1: a.CX - a.W/2,
		Y1: a.CY - a.H/2,
		X2: a.CX + a.W/2,
		Y2: a.CY + a.H/2,
	}
}

// Template is an anchor size in input pixels
type Template struct {
	Width, Height float32
}

// Stage describes one feature map of the backbone
type Stage struct {
	Stride    int
	Templates []Template
}

// Config lists the stages, finest stride first
type Config struct {
	Stages []Stage
}

// Validate checks that every stage can produce anchors
func (c Config) Validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("%w: no stages", ErrInvalidConfig)
	}
	prev := 0
	for i, s := range c.Stages {
		if s.Stride <= 0 {
			return fmt.Errorf("%w: stage %d stride %d", ErrInvalidConfig, i, s.Stride)
		}
		if s.Stride <= prev {
			return fmt.Errorf("%w: stage %d stride %d not coarser than %d", ErrInvalidConfig, i, s.Stride, prev)
		}
		prev = s.Stride
		if len(s.Templates) == 0 {
			return fmt.Errorf("%w: stage %d has no templates", ErrInvalidConfig, i)
		}
		for j, t := range s.Templates {
			if !(t.Width > 0 && t.Height > 0) {
				return fmt.Errorf("%w: stage %d template %d size %vx%v", ErrInvalidConfig, i, j, t.Width, t.Height)
			}
		}
	}
	return nil
}

// StrideSquare returns a config with square templates per stride, the
// layout used by RetinaFace (min sizes per stride).
func StrideSquare(strides []int, minSizes [][]float32) Config {
	cfg := Config{Stages: make([]Stage, len(strides))}
	for i, stride := range strides {
		st := Stage{Stride: stride}
		if i < len(minSizes) {
			for _, s := range minSizes[i] {
				st.Templates = append(st.Templates, Template{Width: s, Height: s})
			}
		}
		cfg.Stages[i] = st
	}
	return cfg
}

// featureSize is ceil(n / stride)
func featureSize(n, stride int) int {
	return (n + stride - 1) / stride
}

// Count returns the number of anchors Generate produces for the given size
func Count(width, height int, cfg Config) int {
	n := 0
	for _, s := range cfg.Stages {
		n += featureSize(height, s.Stride) * featureSize(width, s.Stride) * len(s.Templates)
	}
	return n
}

// Set is an immutable, ordered anchor sequence for one input resolution
type Set struct {
	anchors []Anchor
	width   int
	height  int
}

// Generate builds the anchor set for an input of width x height pixels
func Generate(width, height int, cfg Config) (*Set, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image size %dx%d", ErrInvalidConfig, width, height)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	anchors := make([]Anchor, 0, Count(width, height, cfg))
	fw, fh := float32(width), float32(height)

	for _, s := range cfg.Stages {
		rows := featureSize(height, s.Stride)
		cols := featureSize(width, s.Stride)
		step := float32(s.Stride)
		for row := 0; row < rows; row++ {
			for col := 0; col < cols; col++ {
				cx := (float32(col) + 0.5) * step / fw
				cy := (float32(row) + 0.5) * step / fh
				for _, t := range s.Templates {
					anchors = append(anchors, Anchor{
						CX: cx,
						CY: cy,
						W:  t.Width / fw,
						H:  t.Height / fh,
					})
				}
			}
		}
	}

	return &Set{anchors: anchors, width: width, height: height}, nil
}

// Len returns the number of anchors
func (s *Set) Len() int {
	return len(s.anchors)
}

// At returns anchor i
func (s *Set) At(i int) Anchor {
	return s.anchors[i]
}

// Width returns the input width the set was generated for
func (s *Set) Width() int {
	return s.width
}

// Height returns the input height the set was generated for
func (s *Set) Height() int {
	return s.height
}

// Tensor copies the anchors into a [N,4] tensor of (cx, cy, w, h) rows
func (s *Set) Tensor() *tensor.Dense {
	backing := make([]float32, 0, 4*len(s.anchors))
	for _, a := range s.anchors {
		backing = append(backing, a.CX, a.CY, a.W, a.H)
	}
	return tensor.New(tensor.WithShape(len(s.anchors), 4), tensor.WithBacking(backing))
}
