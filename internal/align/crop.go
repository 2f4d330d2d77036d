package align

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/geom"
)

// Crop warps img so lm lands on the reference template of a size x size
// crop. The caller owns the returned Mat.
func Crop(img gocv.Mat, lm geom.Landmarks, size int) (gocv.Mat, error) {
	if size <= 0 {
		return gocv.Mat{}, fmt.Errorf("invalid crop size %d", size)
	}
	t, err := ToTemplate(lm, size)
	if err != nil {
		return gocv.Mat{}, err
	}

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer m.Close()
	m.SetDoubleAt(0, 0, t.A)
	m.SetDoubleAt(0, 1, t.B)
	m.SetDoubleAt(0, 2, t.C)
	m.SetDoubleAt(1, 0, t.D)
	m.SetDoubleAt(1, 1, t.E)
	m.SetDoubleAt(1, 2, t.F)

	aligned := gocv.NewMat()
	gocv.WarpAffine(img, &aligned, m, image.Pt(size, size))
	return aligned, nil
}
