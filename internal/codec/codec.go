// Package codec converts between absolute geometry and anchor-relative
// regression offsets. Encode is used to build training targets and Decode to
// read network outputs; the two must stay exact inverses.
package codec

import (
	"errors"
	"fmt"
	"math"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/geom"
)

// ErrDegenerateBox is returned when a box has no positive extent
var ErrDegenerateBox = errors.New("degenerate box")

// Variance scales center offsets (index 0) and log-size offsets (index 1)
type Variance [2]float32

// DefaultVariance is the RetinaFace setting
var DefaultVariance = Variance{0.1, 0.2}

// Codec encodes and decodes against anchors with fixed variances
type Codec struct {
	variance Variance
}

// New returns a codec using v
func New(v Variance) Codec {
	return Codec{variance: v}
}

// Variance returns the codec variances
func (c Codec) Variance() Variance {
	return c.variance
}

// Encode returns (dx, dy, dw, dh) of box relative to a. Both are normalized.
func (c Codec) Encode(a anchor.Anchor, box geom.BoundingBox) ([4]float32, error) {
	w := float64(box.X2) - float64(box.X1)
	h := float64(box.Y2) - float64(box.Y1)
	if !(w > 0 && h > 0) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return [4]float32{}, fmt.Errorf("%w: %vx%v", ErrDegenerateBox, w, h)
	}

	v0, v1 := float64(c.variance[0]), float64(c.variance[1])
	aw, ah := float64(a.W), float64(a.H)
	cx := (float64(box.X1) + float64(box.X2)) / 2
	cy := (float64(box.Y1) + float64(box.Y2)) / 2

	out := [4]float64{
		(cx - float64(a.CX)) / (aw * v0),
		(cy - float64(a.CY)) / (ah * v0),
		math.Log(w/aw) / v1,
		math.Log(h/ah) / v1,
	}

	var enc [4]float32
	for i, x := range out {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return [4]float32{}, fmt.Errorf("%w: non-finite offset %d", ErrDegenerateBox, i)
		}
		enc[i] = float32(x)
	}
	return enc, nil
}

// Decode inverts Encode. Offsets are unbounded; the result is not clamped.
func (c Codec) Decode(a anchor.Anchor, off [4]float32) geom.BoundingBox {
	v0, v1 := float64(c.variance[0]), float64(c.variance[1])
	aw, ah := float64(a.W), float64(a.H)

	cx := float64(a.CX) + float64(off[0])*v0*aw
	cy := float64(a.CY) + float64(off[1])*v0*ah
	// half extents directly, so an overflowing exp yields +/-Inf corners instead of Inf-Inf
	hw := aw * math.Exp(float64(off[2])*v1) / 2
	hh := ah * math.Exp(float64(off[3])*v1) / 2

	return geom.BoundingBox{
		X1: float32(cx - hw),
		Y1: float32(cy - hh),
		X2: float32(cx + hw),
		Y2: float32(cy + hh),
	}
}

// EncodeLandmarks returns per-point offsets of lm relative to the anchor center
func (c Codec) EncodeLandmarks(a anchor.Anchor, lm geom.Landmarks) [10]float32 {
	v0 := float64(c.variance[0])
	sx, sy := float64(a.W)*v0, float64(a.H)*v0

	var enc [10]float32
	for i, p := range lm.Points() {
		enc[2*i] = float32((float64(p.X) - float64(a.CX)) / sx)
		enc[2*i+1] = float32((float64(p.Y) - float64(a.CY)) / sy)
	}
	return enc
}

// DecodeLandmarks inverts EncodeLandmarks
func (c Codec) DecodeLandmarks(a anchor.Anchor, off [10]float32) geom.Landmarks {
	v0 := float64(c.variance[0])
	sx, sy := float64(a.W)*v0, float64(a.H)*v0

	var pts [geom.NumLandmarks]geom.Point
	for i := range pts {
		pts[i] = geom.Point{
			X: float32(float64(a.CX) + float64(off[2*i])*sx),
			Y: float32(float64(a.CY) + float64(off[2*i+1])*sy),
		}
	}
	return geom.LandmarksFromPoints(pts)
}
