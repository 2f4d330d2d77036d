package align

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/retinaface/internal/geom"
)

func similarity(scale, theta, tx, ty float64) Transform {
	c, s := scale*math.Cos(theta), scale*math.Sin(theta)
	return Transform{A: c, B: -s, C: tx, D: s, E: c, F: ty}
}

func applyAll(t Transform, pts []geom.Point) []geom.Point {
	out := make([]geom.Point, len(pts))
	for i, p := range pts {
		out[i] = t.Apply(p)
	}
	return out
}

func TestEstimateSimilarity_RecoversKnownTransform(t *testing.T) {
	src := template[:]
	want := similarity(2.5, 0.3, 140, -20)

	got, err := EstimateSimilarity(src, applyAll(want, src))
	require.NoError(t, err)

	assert.InDelta(t, want.A, got.A, 1e-4)
	assert.InDelta(t, want.B, got.B, 1e-4)
	assert.InDelta(t, want.C, got.C, 1e-2)
	assert.InDelta(t, want.D, got.D, 1e-4)
	assert.InDelta(t, want.F, got.F, 1e-2)
	assert.InDelta(t, 2.5, got.Scale(), 1e-4)
}

func TestToTemplate_MapsDetectedFaceOntoTemplate(t *testing.T) {
	// a face four times the template size, rotated and shifted
	face := similarity(4, -0.2, 300, 150)
	pts := applyAll(face, template[:])
	lm := geom.LandmarksFromPoints([5]geom.Point(pts))

	tr, err := ToTemplate(lm, 224)
	require.NoError(t, err)

	want := Template(224).Points()
	for i, p := range lm.Points() {
		got := tr.Apply(p)
		assert.InDelta(t, want[i].X, got.X, 1e-2)
		assert.InDelta(t, want[i].Y, got.Y, 1e-2)
	}
	assert.InDelta(t, 0.5, tr.Scale(), 1e-4)
}

func TestTransform_Invert(t *testing.T) {
	tr := similarity(1.7, 1.1, -5, 12)
	inv, err := tr.Invert()
	require.NoError(t, err)

	p := geom.Point{X: 33, Y: -8}
	back := inv.Apply(tr.Apply(p))
	assert.InDelta(t, p.X, back.X, 1e-4)
	assert.InDelta(t, p.Y, back.Y, 1e-4)

	_, err = Transform{}.Invert()
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestEstimateSimilarity_Degenerate(t *testing.T) {
	same := []geom.Point{{X: 1, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 1}}
	_, err := EstimateSimilarity(same, template[:3])
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = EstimateSimilarity(template[:1], template[:1])
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = EstimateSimilarity(template[:2], template[:3])
	assert.Error(t, err)
}

func TestTemplate_Scale(t *testing.T) {
	assert.Equal(t, geom.LandmarksFromPoints(template), Template(TemplateSize))
	assert.InDelta(t, 76.5892, Template(224).LeftEye.X, 1e-3)
}
