package detections

import "math"

// TruncateFloat truncates x to the given number of significant decimal
// digits. Truncation uses the floor of the digit boundary rather than
// round-to-nearest; downstream consumers depend on this for byte-level
// reproducibility against reference outputs. Values within 1e-8 of zero
// collapse to 0.
func TruncateFloat(x float64, digits int) float64 {
	if math.Abs(x) < 1e-8 {
		return 0
	}
	factor := math.Pow(10, float64(digits)-1-math.Floor(math.Log10(math.Abs(x))))
	return math.Floor(x*factor) / factor
}

// TruncateBBox truncates every bbox component to the coordinate
// precision.
func TruncateBBox(bbox [4]float64, digits int) [4]float64 {
	for i := range bbox {
		bbox[i] = TruncateFloat(bbox[i], digits)
	}
	return bbox
}
