package detections

const (
	// ImageSize is the square inference size the reference model was
	// trained at.
	ImageSize = 1280
	// Stride is the model's maximum downsampling stride; letterboxed
	// dimensions must be multiples of it.
	Stride = 64
	// PadValue is the neutral gray used for letterbox borders.
	PadValue = 114

	// ConfDigits and CoordDigits are the significant-digit counts that
	// confidence and bbox values are truncated to in the output record.
	ConfDigits  = 3
	CoordDigits = 4

	// DefaultIoUCutoff is the overlap ratio above which same-class boxes
	// are considered duplicates during suppression.
	DefaultIoUCutoff = 0.45

	// FailureInfer is the failure marker written to results for images
	// that raised an error anywhere in the pipeline.
	FailureInfer = "Failure inference"
)

// DefaultCategories is the category enumeration of the reference model
// family. It is configuration data pinned to the deployed model, not an
// architectural assumption; override with WithCategories when deploying
// a model trained on a different label set.
var DefaultCategories = map[int]string{
	1: "animal",
	2: "person",
	3: "vehicle",
}
