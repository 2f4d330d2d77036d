package pipeline

import (
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/detector"
	"github.com/dudu/retinaface/internal/head"
)

// FaceDetector runs a network over an image
type FaceDetector interface {
	// Predict returns the raw head outputs and the anchors they index
	Predict(img gocv.Mat) (head.Prediction, *anchor.Set, error)
	// Detect returns decoded faces in image pixels
	Detect(img gocv.Mat) ([]detector.Face, error)
	Close() error
}
