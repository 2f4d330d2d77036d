// Package assign matches ground-truth faces to anchors and encodes the
// per-anchor regression targets used by the training loss.
package assign

import (
	"fmt"
	"sort"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/codec"
	"github.com/dudu/retinaface/internal/geom"
)

// Label is the class assigned to an anchor
type Label int8

const (
	Ignore     Label = -1
	Background Label = 0
	Face       Label = 1
)

// GroundTruthFace is an annotated face in absolute pixel coordinates
type GroundTruthFace struct {
	Box            geom.BoundingBox
	Landmarks      geom.Landmarks
	LandmarksValid bool
}

// EncodedTarget is the training target of one anchor
type EncodedTarget struct {
	Label          Label
	Box            [4]float32
	Landmarks      [10]float32
	LandmarksValid bool
	// Match is the index of the matched face, -1 when not positive
	Match int
}

// Targets is the assignment result for one image, one item per anchor
type Targets struct {
	Items             []EncodedTarget
	Positives         int
	LandmarkPositives int
	Ignored           int
	// Rejected lists, in index order, faces left without a positive anchor:
	// empty boxes, boxes overlapping no anchor, and coincident boxes whose
	// every overlapping anchor was already claimed by an earlier face
	Rejected []int
}

// Config holds the matching thresholds
type Config struct {
	// PositiveThreshold is the IoU at or above which an anchor is positive
	PositiveThreshold float32
	// NegativeThreshold starts the ignore band [Negative, Positive); 0 disables it
	NegativeThreshold float32
}

// DefaultConfig returns the RetinaFace matching thresholds
func DefaultConfig() Config {
	return Config{PositiveThreshold: 0.35}
}

// Validate checks threshold ordering
func (c Config) Validate() error {
	if !(c.PositiveThreshold > 0 && c.PositiveThreshold <= 1) {
		return fmt.Errorf("positive threshold %v out of (0,1]", c.PositiveThreshold)
	}
	if c.NegativeThreshold < 0 || c.NegativeThreshold >= c.PositiveThreshold {
		return fmt.Errorf("negative threshold %v out of [0,%v)", c.NegativeThreshold, c.PositiveThreshold)
	}
	return nil
}

// Assigner builds Targets. It holds no per-image state and is safe for
// concurrent use.
type Assigner struct {
	cfg   Config
	codec codec.Codec
}

// New returns an assigner
func New(cfg Config, c codec.Codec) (*Assigner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid assign config: %w", err)
	}
	return &Assigner{cfg: cfg, codec: c}, nil
}

type normalizedFace struct {
	index int
	box   geom.BoundingBox
	lm    geom.Landmarks
	valid bool
}

// Assign matches faces to anchors. Faces are in pixels of the resolution the
// anchor set was generated for.
func (a *Assigner) Assign(anchors *anchor.Set, faces []GroundTruthFace) Targets {
	n := anchors.Len()
	t := Targets{Items: make([]EncodedTarget, n)}
	for i := range t.Items {
		t.Items[i].Match = -1
	}

	sx := 1 / float32(anchors.Width())
	sy := 1 / float32(anchors.Height())

	usable := make([]normalizedFace, 0, len(faces))
	for i, f := range faces {
		box := f.Box.Scale(sx, sy)
		if box.Empty() {
			t.Rejected = append(t.Rejected, i)
			continue
		}
		usable = append(usable, normalizedFace{
			index: i,
			box:   box,
			lm:    f.Landmarks.Scale(sx, sy),
			valid: f.LandmarksValid,
		})
	}
	if len(usable) == 0 {
		return t
	}

	// best face per anchor and best anchor per face, in one pass over the N x M IoU matrix
	bestFace := make([]int, n)
	bestFaceIoU := make([]float32, n)
	bestAnchor := make([]int, len(usable))
	bestAnchorIoU := make([]float32, len(usable))
	for j := range bestAnchor {
		bestAnchor[j] = -1
	}

	for i := 0; i < n; i++ {
		ab := anchors.At(i).Box()
		bestFace[i] = -1
		for j, f := range usable {
			iou := geom.IoU(ab, f.box)
			if bestFace[i] < 0 || iou > bestFaceIoU[i] {
				bestFace[i] = j
				bestFaceIoU[i] = iou
			}
			if iou > bestAnchorIoU[j] {
				bestAnchor[j] = i
				bestAnchorIoU[j] = iou
			}
		}
	}

	match := make([]int, n)
	for i := range match {
		switch {
		case bestFaceIoU[i] >= a.cfg.PositiveThreshold:
			match[i] = bestFace[i]
			t.Items[i].Label = Face
		case a.cfg.NegativeThreshold > 0 && bestFaceIoU[i] >= a.cfg.NegativeThreshold:
			match[i] = -1
			t.Items[i].Label = Ignore
		default:
			match[i] = -1
		}
	}

	// every face keeps at least one overlapping anchor; an anchor rescued for
	// one face is never handed to another
	claimed := make([]bool, n)
	for j, i := range bestAnchor {
		if i >= 0 && claimed[i] {
			i = bestUnclaimed(anchors, usable[j].box, claimed)
		}
		if i < 0 {
			t.Rejected = append(t.Rejected, usable[j].index)
			continue
		}
		claimed[i] = true
		match[i] = j
		t.Items[i].Label = Face
	}
	sort.Ints(t.Rejected)

	for i := range t.Items {
		item := &t.Items[i]
		switch item.Label {
		case Ignore:
			t.Ignored++
			continue
		case Background:
			continue
		}

		f := usable[match[i]]
		an := anchors.At(i)
		enc, err := a.codec.Encode(an, f.box)
		if err != nil {
			// unreachable for non-empty boxes; keep the anchor out of every loss term
			item.Label = Ignore
			t.Ignored++
			continue
		}
		item.Match = f.index
		item.Box = enc
		if f.valid {
			item.Landmarks = a.codec.EncodeLandmarks(an, f.lm)
			item.LandmarksValid = true
			t.LandmarkPositives++
		}
		t.Positives++
	}

	return t
}

// bestUnclaimed returns the unclaimed anchor overlapping box the most, -1 when
// every overlapping anchor is taken
func bestUnclaimed(anchors *anchor.Set, box geom.BoundingBox, claimed []bool) int {
	best, bestIoU := -1, float32(0)
	for i := range claimed {
		if claimed[i] {
			continue
		}
		if iou := geom.IoU(anchors.At(i).Box(), box); iou > bestIoU {
			best, bestIoU = i, iou
		}
	}
	return best
}
