// Package align maps detected facial landmarks onto a canonical template
// and crops aligned faces.
package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/dudu/retinaface/internal/geom"
)

// ErrDegenerate is returned when points carry no spread to fit against
var ErrDegenerate = errors.New("degenerate landmark set")

// TemplateSize is the side of the reference template in pixels
const TemplateSize = 112

// reference landmarks for a 112x112 aligned face
var template = [geom.NumLandmarks]geom.Point{
	{X: 38.2946, Y: 51.6963}, // left eye
	{X: 73.5318, Y: 51.5014}, // right eye
	{X: 56.0252, Y: 71.7366}, // nose
	{X: 41.5493, Y: 92.3655}, // left mouth
	{X: 70.7299, Y: 92.2041}, // right mouth
}

// Template returns the reference landmarks scaled to a size x size crop
func Template(size int) geom.Landmarks {
	s := float32(size) / TemplateSize
	return geom.LandmarksFromPoints(template).Scale(s, s)
}

// Transform is a 2x3 affine map (x, y) -> (A*x + B*y + C, D*x + E*y + F)
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps a point
func (t Transform) Apply(p geom.Point) geom.Point {
	x, y := float64(p.X), float64(p.Y)
	return geom.Point{
		X: float32(t.A*x + t.B*y + t.C),
		Y: float32(t.D*x + t.E*y + t.F),
	}
}

// Scale returns the isotropic scale of a similarity transform
func (t Transform) Scale() float64 {
	return math.Hypot(t.A, t.D)
}

// Invert returns the inverse map
func (t Transform) Invert() (Transform, error) {
	det := t.A*t.E - t.B*t.D
	if math.Abs(det) < 1e-12 {
		return Transform{}, ErrDegenerate
	}
	a, b := t.E/det, -t.B/det
	d, e := -t.D/det, t.A/det
	return Transform{
		A: a, B: b, C: -(a*t.C + b*t.F),
		D: d, E: e, F: -(d*t.C + e*t.F),
	}, nil
}

// EstimateSimilarity fits the rotation, isotropic scale and translation
// taking src onto dst in the least squares sense
func EstimateSimilarity(src, dst []geom.Point) (Transform, error) {
	n := len(src)
	if n != len(dst) {
		return Transform{}, fmt.Errorf("%d source points for %d destination points", n, len(dst))
	}
	if n < 2 {
		return Transform{}, fmt.Errorf("%w: %d points", ErrDegenerate, n)
	}

	// Compute centroids
	var srcCx, srcCy, dstCx, dstCy float64
	for i := 0; i < n; i++ {
		srcCx += float64(src[i].X)
		srcCy += float64(src[i].Y)
		dstCx += float64(dst[i].X)
		dstCy += float64(dst[i].Y)
	}
	srcCx /= float64(n)
	srcCy /= float64(n)
	dstCx /= float64(n)
	dstCy /= float64(n)

	// Cross-covariance of the centered points
	var a11, a12, a21, a22, srcVar float64
	for i := 0; i < n; i++ {
		sx := float64(src[i].X) - srcCx
		sy := float64(src[i].Y) - srcCy
		dx := float64(dst[i].X) - dstCx
		dy := float64(dst[i].Y) - dstCy

		a11 += sx * dx
		a12 += sx * dy
		a21 += sy * dx
		a22 += sy * dy
		srcVar += sx*sx + sy*sy
	}
	if srcVar < 1e-12 {
		return Transform{}, ErrDegenerate
	}

	// cos(θ) ∝ a11 + a22, sin(θ) ∝ a12 - a21
	c, s := a11+a22, a12-a21
	norm := math.Hypot(c, s)
	if norm < 1e-12 {
		return Transform{}, ErrDegenerate
	}
	scale := norm / srcVar
	cosTheta, sinTheta := c/norm, s/norm

	// Translation: dstC - scale * R * srcC
	return Transform{
		A: scale * cosTheta, B: -scale * sinTheta,
		C: dstCx - scale*(cosTheta*srcCx-sinTheta*srcCy),
		D: scale * sinTheta, E: scale * cosTheta,
		F: dstCy - scale*(sinTheta*srcCx+cosTheta*srcCy),
	}, nil
}

// ToTemplate fits the map from detected landmarks onto the size x size
// reference template
func ToTemplate(lm geom.Landmarks, size int) (Transform, error) {
	src := lm.Points()
	dst := Template(size).Points()
	return EstimateSimilarity(src[:], dst[:])
}
