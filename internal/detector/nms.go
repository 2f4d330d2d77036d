package detector

import (
	"sort"

	"github.com/dudu/retinaface/internal/geom"
)

// sortFaces orders by descending score, lower anchor index first on ties
func sortFaces(faces []Face) {
	sort.SliceStable(faces, func(i, j int) bool {
		if faces[i].Score != faces[j].Score {
			return faces[i].Score > faces[j].Score
		}
		return faces[i].Index < faces[j].Index
	})
}

// NMS performs greedy Non-Maximum Suppression. A face is dropped when its
// IoU with a higher ranked kept face exceeds iouThreshold. The input slice is
// not modified.
func NMS(faces []Face, iouThreshold float32) []Face {
	if len(faces) == 0 {
		return nil
	}

	sorted := make([]Face, len(faces))
	copy(sorted, faces)
	sortFaces(sorted)

	keep := make([]bool, len(sorted))
	for i := range keep {
		keep[i] = true
	}

	for i := 0; i < len(sorted); i++ {
		if !keep[i] {
			continue
		}
		for j := i + 1; j < len(sorted); j++ {
			if !keep[j] {
				continue
			}
			if geom.IoU(sorted[i].BoundingBox, sorted[j].BoundingBox) > iouThreshold {
				keep[j] = false
			}
		}
	}

	result := make([]Face, 0, len(sorted))
	for i, face := range sorted {
		if keep[i] {
			result = append(result, face)
		}
	}

	return result
}
