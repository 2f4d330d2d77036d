package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/align"
	"github.com/dudu/retinaface/internal/detector"
)

func logDetections(log logrus.FieldLogger, faces []detector.Face, visThreshold float32) {
	for i, f := range detector.Visible(faces, visThreshold) {
		b := f.BoundingBox
		log.WithFields(logrus.Fields{
			"rank":  i,
			"score": f.Score,
			"box":   []float32{b.X1, b.Y1, b.X2, b.Y2},
			"nose":  []float32{f.Landmarks.Nose.X, f.Landmarks.Nose.Y},
		}).Info("face")
	}
}

// saveCrops writes one aligned size x size crop per visible face
func saveCrops(log logrus.FieldLogger, img gocv.Mat, faces []detector.Face, visThreshold float32, size int, name string) error {
	for i, f := range detector.Visible(faces, visThreshold) {
		crop, err := align.Crop(img, f.Landmarks, size)
		if err != nil {
			log.WithError(err).WithField("rank", i).Warn("face not aligned")
			continue
		}
		out := fmt.Sprintf("%s_face%02d.jpg", name, i)
		ok := gocv.IMWrite(out, crop)
		crop.Close()
		if !ok {
			return fmt.Errorf("failed to write %s", out)
		}
		log.WithField("path", out).Debug("crop saved")
	}
	return nil
}
