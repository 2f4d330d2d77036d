package codec

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/geom"
)

func TestEncode_KnownValues(t *testing.T) {
	assert := assert.New(t)
	c := New(DefaultVariance)

	a := anchor.Anchor{CX: 0.5, CY: 0.5, W: 0.1, H: 0.2}
	// center (0.51, 0.48), size 0.1 x 0.2 * e
	box := geom.BoundingBox{
		X1: 0.46, Y1: 0.48 - 0.1*float32(math.E),
		X2: 0.56, Y2: 0.48 + 0.1*float32(math.E),
	}

	enc, err := c.Encode(a, box)
	require.NoError(t, err)
	assert.InDelta(1.0, enc[0], 1e-4)  // 0.01 / (0.1*0.1)
	assert.InDelta(-1.0, enc[1], 1e-4) // -0.02 / (0.2*0.1)
	assert.InDelta(0.0, enc[2], 1e-4)
	assert.InDelta(5.0, enc[3], 1e-4) // log(e) / 0.2
}

func TestRoundTrip_Boxes(t *testing.T) {
	c := New(DefaultVariance)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		a := anchor.Anchor{
			CX: rng.Float32(),
			CY: rng.Float32(),
			W:  0.01 + rng.Float32()*0.5,
			H:  0.01 + rng.Float32()*0.5,
		}
		x1, y1 := rng.Float32(), rng.Float32()
		box := geom.BoundingBox{X1: x1, Y1: y1, X2: x1 + 0.005 + rng.Float32()*0.6, Y2: y1 + 0.005 + rng.Float32()*0.6}

		enc, err := c.Encode(a, box)
		require.NoError(t, err)

		got := c.Decode(a, enc)
		assert.InDelta(t, box.X1, got.X1, 1e-5)
		assert.InDelta(t, box.Y1, got.Y1, 1e-5)
		assert.InDelta(t, box.X2, got.X2, 1e-5)
		assert.InDelta(t, box.Y2, got.Y2, 1e-5)
	}
}

func TestRoundTrip_Landmarks(t *testing.T) {
	c := New(Variance{0.1, 0.2})
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 500; i++ {
		a := anchor.Anchor{CX: rng.Float32(), CY: rng.Float32(), W: 0.02 + rng.Float32()*0.4, H: 0.02 + rng.Float32()*0.4}
		var pts [geom.NumLandmarks]geom.Point
		for j := range pts {
			pts[j] = geom.Point{X: rng.Float32(), Y: rng.Float32()}
		}
		lm := geom.LandmarksFromPoints(pts)

		got := c.DecodeLandmarks(a, c.EncodeLandmarks(a, lm))
		for j, p := range got.Points() {
			assert.InDelta(t, pts[j].X, p.X, 1e-5)
			assert.InDelta(t, pts[j].Y, p.Y, 1e-5)
		}
	}
}

func TestEncodeLandmarks_UsesCenterVariance(t *testing.T) {
	c := New(Variance{0.1, 0.2})
	a := anchor.Anchor{CX: 0.5, CY: 0.5, W: 0.2, H: 0.1}
	lm := geom.LandmarksFromPoints([5]geom.Point{{X: 0.52, Y: 0.49}, {X: 0.5, Y: 0.5}, {}, {}, {}})

	enc := c.EncodeLandmarks(a, lm)
	assert.InDelta(t, 1.0, enc[0], 1e-4)
	assert.InDelta(t, -1.0, enc[1], 1e-4)
	assert.InDelta(t, 0.0, enc[2], 1e-6)
	assert.InDelta(t, 0.0, enc[3], 1e-6)
}

func TestEncode_RejectsDegenerate(t *testing.T) {
	c := New(DefaultVariance)
	a := anchor.Anchor{CX: 0.5, CY: 0.5, W: 0.1, H: 0.1}

	cases := []geom.BoundingBox{
		{X1: 0.2, Y1: 0.2, X2: 0.2, Y2: 0.4},
		{X1: 0.2, Y1: 0.2, X2: 0.4, Y2: 0.1},
		{X1: float32(math.NaN()), Y1: 0.2, X2: 0.4, Y2: 0.4},
		{X1: 0, Y1: 0, X2: float32(math.Inf(1)), Y2: 0.4},
	}
	for _, box := range cases {
		_, err := c.Encode(a, box)
		assert.ErrorIs(t, err, ErrDegenerateBox, "%+v", box)
	}
}

func TestDecode_LargeOffsetsStayOrdered(t *testing.T) {
	c := New(DefaultVariance)
	a := anchor.Anchor{CX: 0.5, CY: 0.5, W: 0.1, H: 0.1}

	big := c.Decode(a, [4]float32{0, 0, 5000, 5000})
	assert.True(t, math.IsInf(float64(big.X2), 1))
	assert.True(t, math.IsInf(float64(big.X1), -1))
	assert.False(t, math.IsNaN(float64(big.Width())))

	tiny := c.Decode(a, [4]float32{0, 0, -5000, -5000})
	assert.InDelta(t, 0.5, tiny.X1, 1e-6)
	assert.InDelta(t, 0.5, tiny.X2, 1e-6)
}
