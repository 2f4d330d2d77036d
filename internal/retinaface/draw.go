package retinaface

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/detector"
)

var (
	boxColor  = color.RGBA{255, 0, 0, 255}
	textColor = color.RGBA{255, 255, 255, 255}

	// left eye, right eye, nose, left mouth, right mouth
	landmarkColors = [5]color.RGBA{
		{255, 0, 0, 255},
		{255, 255, 0, 255},
		{255, 0, 255, 255},
		{0, 255, 0, 255},
		{0, 0, 255, 255},
	}
)

// DrawDetections draws boxes, scores and landmarks of faces scoring at
// least visThreshold
func DrawDetections(img *gocv.Mat, faces []detector.Face, visThreshold float32) {
	for _, face := range detector.Visible(faces, visThreshold) {
		b := face.BoundingBox
		x1, y1 := int(b.X1), int(b.Y1)
		gocv.Rectangle(img, image.Rect(x1, y1, int(b.X2), int(b.Y2)), boxColor, 2)
		gocv.PutText(img, fmt.Sprintf("%.4f", face.Score), image.Pt(x1, y1+12),
			gocv.FontHersheyDuplex, 0.5, textColor, 1)

		for i, p := range face.Landmarks.Points() {
			gocv.Circle(img, image.Pt(int(p.X), int(p.Y)), 1, landmarkColors[i], 4)
		}
	}
}
