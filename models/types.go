package models

import "time"

// Detection is one detected object in an image. Field names and numeric
// precision are the compatibility contract with downstream consumers of
// the batch output format; do not rename or re-round.
type Detection struct {
	// Category is the string-encoded category id, 1-based by default
	// (model-native 0-based when native passthrough is enabled).
	Category string `json:"category"`
	// Conf is the detection confidence, truncated to a fixed number of
	// significant digits.
	Conf float64 `json:"conf"`
	// BBox is (x_min, y_min, width, height), each relative to the
	// original image dimensions and truncated to a fixed precision.
	BBox [4]float64 `json:"bbox"`
}

// DetectionResult is the per-image output record.
type DetectionResult struct {
	File             string      `json:"file"`
	MaxDetectionConf float64     `json:"max_detection_conf"`
	Detections       []Detection `json:"detections"`
	// Failure marks an image that failed during inference. The record is
	// still well-formed: zero detections, max_detection_conf 0.
	Failure string `json:"failure,omitempty"`
}

// PipelineTimings holds per-stage durations for one image, attached to
// debug logs.
type PipelineTimings struct {
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
