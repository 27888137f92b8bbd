// Package suppression removes duplicate overlapping detections.
//
// The contract: among boxes of the same class whose overlap ratio
// exceeds the cutoff, only the highest-confidence one survives.
package suppression

import (
	"math"
	"sort"
)

// Box is an axis-aligned box in corner form. Coordinates are in the
// pixel space of whatever image the candidates were produced from.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	w := float64(b.X2 - b.X1)
	h := float64(b.Y2 - b.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func IoU(a, b Box) float64 {
	x1 := math.Max(float64(a.X1), float64(b.X1))
	y1 := math.Max(float64(a.Y1), float64(b.Y1))
	x2 := math.Min(float64(a.X2), float64(b.X2))
	y2 := math.Min(float64(a.Y2), float64(b.Y2))

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Candidate is one raw detection proposal entering suppression.
type Candidate struct {
	Box   Box
	Conf  float32
	Class int
}

// NonMax performs greedy class-aware non-max suppression. Candidates
// are considered in descending confidence order; a candidate is dropped
// when an already-kept candidate of the same class overlaps it above
// the cutoff. The survivors are returned sorted by descending
// confidence. The input slice is not modified.
func NonMax(candidates []Candidate, iouCutoff float64) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Conf > sorted[j].Conf
	})

	kept := make([]Candidate, 0, len(sorted))
	for _, c := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.Class == c.Class && IoU(k.Box, c.Box) > iouCutoff {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}

	return kept
}
