package detector

import "github.com/dudu/retinaface/internal/geom"

// Face represents a detected face
type Face struct {
	BoundingBox geom.BoundingBox
	Landmarks   geom.Landmarks
	Score       float32
	// Index is the anchor the detection was decoded from
	Index int
}

// ScoreMode selects how class outputs become a face probability
type ScoreMode string

const (
	// ScoreSoftmax treats the class outputs as logits: softmax over
	// (background, face), or a sigmoid for a single logit
	ScoreSoftmax ScoreMode = "softmax"
	// ScoreSigmoid applies a sigmoid to the face logit
	ScoreSigmoid ScoreMode = "sigmoid"
	// ScoreProbability reads the face column as an already normalized probability
	ScoreProbability ScoreMode = "probability"
)
