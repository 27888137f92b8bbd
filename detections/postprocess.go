package detections

import (
	"fmt"
	"strconv"

	"github.com/camtrap/detection-service/models"
	"github.com/camtrap/detection-service/suppression"
)

// decodeCandidates converts the raw prediction grid into suppression
// candidates in padded-image pixel space. Each row is (cx, cy, w, h,
// objectness, class scores...); a candidate's confidence is objectness
// times its best class score, and rows below the threshold are dropped
// at both gates.
func decodeCandidates(pred []float32, rows, channels int, threshold float32) ([]suppression.Candidate, error) {
	if channels < 6 {
		return nil, fmt.Errorf("prediction rows have %d channels, want at least 6", channels)
	}
	if len(pred) != rows*channels {
		return nil, fmt.Errorf("prediction length %d does not match %d rows of %d channels",
			len(pred), rows, channels)
	}

	candidates := make([]suppression.Candidate, 0, 64)
	for i := 0; i < rows; i++ {
		row := pred[i*channels : (i+1)*channels]
		obj := row[4]
		if obj <= threshold {
			continue
		}

		class := 0
		best := float32(0)
		for c := 5; c < channels; c++ {
			if score := row[c] * obj; score > best {
				best = score
				class = c - 5
			}
		}
		if best <= threshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		candidates = append(candidates, suppression.Candidate{
			Box: suppression.Box{
				X1: cx - w/2,
				Y1: cy - h/2,
				X2: cx + w/2,
				Y2: cy + h/2,
			},
			Conf:  best,
			Class: class,
		})
	}

	return candidates, nil
}

// finalize maps surviving candidates back to the original image and
// into the public record shape. Iteration runs in reverse of the
// suppression output order; downstream consumers expect that ordering
// even though it carries no semantic weight. An unrecognized remapped
// category id is an error for the whole image, since it signals a model
// trained on an incompatible label set.
func (d *Detector) finalize(kept []suppression.Candidate, tr Transform) ([]models.Detection, float64, error) {
	detections := make([]models.Detection, 0, len(kept))
	maxConf := 0.0

	gw := float64(tr.SrcWidth)
	gh := float64(tr.SrcHeight)

	for i := len(kept) - 1; i >= 0; i-- {
		c := kept[i]

		x1, y1, x2, y2 := tr.ToOriginal(c.Box.X1, c.Box.Y1, c.Box.X2, c.Box.Y2)

		bbox := [4]float64{
			float64(x1) / gw,
			float64(y1) / gh,
			float64(x2-x1) / gw,
			float64(y2-y1) / gh,
		}

		class := c.Class
		if !d.nativeClasses {
			// The output format's categories start at 1; the model's
			// start at 0.
			class++
			if _, ok := d.categories[class]; !ok {
				return nil, 0, fmt.Errorf("%d is not a valid class", class)
			}
		}

		conf := TruncateFloat(float64(c.Conf), ConfDigits)
		detections = append(detections, models.Detection{
			Category: strconv.Itoa(class),
			Conf:     conf,
			BBox:     TruncateBBox(bbox, CoordDigits),
		})
		if conf > maxConf {
			maxConf = conf
		}
	}

	return detections, maxConf, nil
}
