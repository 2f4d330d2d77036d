package head

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlices(t *testing.T) {
	class := []float32{0.1, 0.9, 0.8, 0.2}
	box := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	lm := make([]float32, 20)
	lm[10] = 42

	p, err := FromSlices(class, box, lm)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Len())
	assert.Equal(t, 2, p.Classes())
	assert.NoError(t, p.Validate(2))
	assert.Equal(t, []float32{0.8, 0.2}, p.ClassRow(1))
	assert.Equal(t, [4]float32{5, 6, 7, 8}, p.BoxRow(1))
	assert.Equal(t, float32(42), p.LandmarkRow(1)[0])
}

func TestFromSlices_SingleLogit(t *testing.T) {
	p, err := FromSlices([]float32{0.5, -1}, make([]float32, 8), make([]float32, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Classes())
	assert.Equal(t, []float32{-1}, p.ClassRow(1))
}

func TestFromSlices_Mismatch(t *testing.T) {
	_, err := FromSlices(make([]float32, 4), make([]float32, 7), make([]float32, 20))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromSlices(make([]float32, 4), make([]float32, 8), make([]float32, 10))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromSlices(make([]float32, 6), make([]float32, 8), make([]float32, 20))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = FromSlices(nil, nil, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestValidate_AnchorCount(t *testing.T) {
	p := New(16, 2)
	assert.NoError(t, p.Validate(16))
	assert.ErrorIs(t, p.Validate(15), ErrShapeMismatch)
	assert.ErrorIs(t, Prediction{}.Validate(0), ErrShapeMismatch)
	assert.Equal(t, 16, p.Len())
}
