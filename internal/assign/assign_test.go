package assign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/codec"
	"github.com/dudu/retinaface/internal/geom"
)

func retinaAnchors(t *testing.T, w, h int) *anchor.Set {
	t.Helper()
	cfg := anchor.StrideSquare([]int{8, 16, 32}, [][]float32{{16, 32}, {64, 128}, {256, 512}})
	set, err := anchor.Generate(w, h, cfg)
	require.NoError(t, err)
	return set
}

func newAssigner(t *testing.T, cfg Config) *Assigner {
	t.Helper()
	a, err := New(cfg, codec.New(codec.DefaultVariance))
	require.NoError(t, err)
	return a
}

func face(x1, y1, x2, y2 float32) GroundTruthFace {
	w, h := x2-x1, y2-y1
	return GroundTruthFace{
		Box: geom.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Landmarks: geom.LandmarksFromPoints([5]geom.Point{
			{X: x1 + 0.3*w, Y: y1 + 0.4*h},
			{X: x1 + 0.7*w, Y: y1 + 0.4*h},
			{X: x1 + 0.5*w, Y: y1 + 0.6*h},
			{X: x1 + 0.35*w, Y: y1 + 0.8*h},
			{X: x1 + 0.65*w, Y: y1 + 0.8*h},
		}),
		LandmarksValid: true,
	}
}

func TestAssign_NoFaces(t *testing.T) {
	set := retinaAnchors(t, 128, 128)
	tg := newAssigner(t, DefaultConfig()).Assign(set, nil)

	require.Len(t, tg.Items, set.Len())
	assert.Zero(t, tg.Positives)
	assert.Zero(t, tg.Ignored)
	for _, it := range tg.Items {
		assert.Equal(t, Background, it.Label)
		assert.Equal(t, -1, it.Match)
	}
}

func TestAssign_EveryFaceHasPositive(t *testing.T) {
	set := retinaAnchors(t, 320, 320)
	faces := []GroundTruthFace{
		face(10, 10, 40, 44),
		face(100, 120, 230, 260),
		face(300, 2, 303, 5), // tiny, low IoU with everything
		face(0, 0, 320, 320),
	}
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	seen := make(map[int]int)
	for _, it := range tg.Items {
		if it.Label == Face {
			seen[it.Match]++
		}
	}
	for j := range faces {
		assert.Greater(t, seen[j], 0, "face %d has no positive anchor", j)
	}
	assert.Equal(t, tg.Positives, seen[0]+seen[1]+seen[2]+seen[3])
}

func TestAssign_PositivesEncodeTheirMatch(t *testing.T) {
	set := retinaAnchors(t, 256, 256)
	faces := []GroundTruthFace{face(40, 40, 104, 104), face(150, 150, 214, 220)}
	c := codec.New(codec.DefaultVariance)
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	require.Greater(t, tg.Positives, 2)
	for i, it := range tg.Items {
		if it.Label != Face {
			assert.Equal(t, -1, it.Match)
			assert.False(t, it.LandmarksValid)
			continue
		}
		require.GreaterOrEqual(t, it.Match, 0)
		require.Less(t, it.Match, len(faces))

		// decoding the target must give back the matched face
		box := c.Decode(set.At(i), it.Box).Scale(256, 256)
		want := faces[it.Match].Box
		assert.InDelta(t, want.X1, box.X1, 1e-2)
		assert.InDelta(t, want.Y2, box.Y2, 1e-2)

		lm := c.DecodeLandmarks(set.At(i), it.Landmarks).Scale(256, 256)
		assert.InDelta(t, faces[it.Match].Landmarks.Nose.X, lm.Nose.X, 1e-2)
		assert.True(t, it.LandmarksValid)
	}
	assert.Equal(t, tg.Positives, tg.LandmarkPositives)
}

func TestAssign_ThresholdAndIgnoreBand(t *testing.T) {
	// one stage, one template: anchors are 16x16 cells on a 64x64 image
	cfg := anchor.Config{Stages: []anchor.Stage{{Stride: 16, Templates: []anchor.Template{{Width: 16, Height: 16}}}}}
	set, err := anchor.Generate(64, 64, cfg)
	require.NoError(t, err)

	// a 24x16 box: IoU 2/3 with cell (0,0) and 1/4 with cell (0,1)
	faces := []GroundTruthFace{face(0, 0, 24, 16)}

	tg := newAssigner(t, Config{PositiveThreshold: 0.35}).Assign(set, faces)
	assert.Equal(t, Face, tg.Items[0].Label)
	assert.Equal(t, Background, tg.Items[1].Label)
	assert.Equal(t, 1, tg.Positives)

	tg = newAssigner(t, Config{PositiveThreshold: 0.35, NegativeThreshold: 0.2}).Assign(set, faces)
	assert.Equal(t, Face, tg.Items[0].Label)
	assert.Equal(t, Ignore, tg.Items[1].Label)
	assert.Equal(t, Background, tg.Items[2].Label)
	assert.Equal(t, 1, tg.Ignored)
}

func TestAssign_RescueOverridesIgnore(t *testing.T) {
	cfg := anchor.Config{Stages: []anchor.Stage{{Stride: 16, Templates: []anchor.Template{{Width: 16, Height: 16}}}}}
	set, err := anchor.Generate(64, 64, cfg)
	require.NoError(t, err)

	// IoU with cell (0,0) is 0.25, below the positive threshold but inside the band
	faces := []GroundTruthFace{face(0, 0, 8, 8)}
	tg := newAssigner(t, Config{PositiveThreshold: 0.5, NegativeThreshold: 0.1}).Assign(set, faces)

	assert.Equal(t, Face, tg.Items[0].Label)
	assert.Equal(t, 0, tg.Items[0].Match)
	assert.Equal(t, 1, tg.Positives)
	assert.Zero(t, tg.Ignored)
}

func TestAssign_RescueCollisionTakesNextAnchor(t *testing.T) {
	cfg := anchor.Config{Stages: []anchor.Stage{{Stride: 16, Templates: []anchor.Template{{Width: 16, Height: 16}}}}}
	set, err := anchor.Generate(64, 64, cfg)
	require.NoError(t, err)

	// both faces overlap cell (0,0) best: 0.25 and 0.118; the second also
	// reaches into cell (0,1) with IoU 0.056
	faces := []GroundTruthFace{
		face(2, 2, 10, 10),
		face(8, 8, 20, 12),
	}
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	assert.Equal(t, Face, tg.Items[0].Label)
	assert.Equal(t, 0, tg.Items[0].Match)
	assert.Equal(t, Face, tg.Items[1].Label)
	assert.Equal(t, 1, tg.Items[1].Match)
	assert.Equal(t, 2, tg.Positives)
	assert.Empty(t, tg.Rejected)
}

func TestAssign_CoincidentFacesReported(t *testing.T) {
	cfg := anchor.Config{Stages: []anchor.Stage{{Stride: 16, Templates: []anchor.Template{{Width: 16, Height: 16}}}}}
	set, err := anchor.Generate(64, 64, cfg)
	require.NoError(t, err)

	// cell (0,0) is the only anchor either box touches
	faces := []GroundTruthFace{
		face(2, 2, 10, 10),
		face(2, 2, 10, 10),
	}
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	assert.Equal(t, 0, tg.Items[0].Match)
	assert.Equal(t, 1, tg.Positives)
	assert.Equal(t, []int{1}, tg.Rejected)
}

func TestAssign_FaceOutsideImageRejected(t *testing.T) {
	cfg := anchor.Config{Stages: []anchor.Stage{{Stride: 16, Templates: []anchor.Template{{Width: 16, Height: 16}}}}}
	set, err := anchor.Generate(64, 64, cfg)
	require.NoError(t, err)

	faces := []GroundTruthFace{
		face(100, 100, 120, 120),
		face(16, 16, 32, 32),
	}
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	assert.Equal(t, []int{0}, tg.Rejected)
	assert.Equal(t, 1, tg.Positives)
	for i, it := range tg.Items {
		if it.Label == Face {
			assert.Equal(t, 1, it.Match, "anchor %d", i)
		}
	}
	assert.Equal(t, Face, tg.Items[5].Label)
}

func TestAssign_InvalidLandmarksMasked(t *testing.T) {
	set := retinaAnchors(t, 128, 128)
	f := face(30, 30, 90, 90)
	f.LandmarksValid = false

	tg := newAssigner(t, DefaultConfig()).Assign(set, []GroundTruthFace{f})
	require.Greater(t, tg.Positives, 0)
	assert.Zero(t, tg.LandmarkPositives)
	for _, it := range tg.Items {
		assert.False(t, it.LandmarksValid)
		assert.Equal(t, [10]float32{}, it.Landmarks)
	}
}

func TestAssign_RejectsDegenerateFaces(t *testing.T) {
	set := retinaAnchors(t, 128, 128)
	faces := []GroundTruthFace{
		face(10, 10, 10, 50),
		face(20, 20, 60, 60),
		face(70, 90, 100, 80),
	}
	tg := newAssigner(t, DefaultConfig()).Assign(set, faces)

	assert.Equal(t, []int{0, 2}, tg.Rejected)
	for _, it := range tg.Items {
		if it.Label == Face {
			assert.Equal(t, 1, it.Match)
		}
	}
	assert.Greater(t, tg.Positives, 0)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{}.Validate())
	assert.Error(t, Config{PositiveThreshold: 0.3, NegativeThreshold: 0.4}.Validate())
	assert.Error(t, Config{PositiveThreshold: 1.5}.Validate())
	assert.NoError(t, Config{PositiveThreshold: 0.5, NegativeThreshold: 0.3}.Validate())
	// an equal pair would leave the ignore band empty
	assert.Error(t, Config{PositiveThreshold: 0.35, NegativeThreshold: 0.35}.Validate())

	_, err := New(Config{}, codec.New(codec.DefaultVariance))
	assert.Error(t, err)
}
