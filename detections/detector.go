// Package detections implements the single-image detection pipeline:
// letterbox preprocessing, model execution through ONNX Runtime,
// confidence filtering and overlap suppression, and normalization of
// raw model output into the stable category/conf/bbox record format.
package detections

import (
	"fmt"
	"image"
	"time"

	"github.com/mdobak/go-xerrors"
	"github.com/sirupsen/logrus"

	"github.com/camtrap/detection-service/models"
	"github.com/camtrap/detection-service/suppression"
)

// sizeState tracks the one-time warning for user-supplied inference
// sizes. Per instance, not global: a non-default size warns once, and a
// call at the default size re-arms the warning.
type sizeState int

const (
	sizeDefault sizeState = iota
	sizeOverridden
	sizeWarned
)

// Detector runs the detection pipeline for one image at a time. The
// model session and device decision are process-lifetime state, loaded
// once at construction and shared read-only across calls. Calls must be
// serialized per instance; use a pool for concurrent callers.
type Detector struct {
	session ForwardPass
	device  Device
	pre     *Preprocessor
	log     logrus.FieldLogger

	nativeClasses bool
	categories    map[int]string
	iouCutoff     float64
	suppressOnCPU bool

	sizeState sizeState
}

// Option adjusts detector configuration at construction time.
type Option func(*Detector)

// WithCategories replaces the recognized category enumeration. The map
// is keyed by the 1-based remapped id.
func WithCategories(categories map[int]string) Option {
	return func(d *Detector) { d.categories = categories }
}

// WithIoUCutoff replaces the overlap-suppression cutoff.
func WithIoUCutoff(cutoff float64) Option {
	return func(d *Detector) { d.iouCutoff = cutoff }
}

// WithLogger replaces the default logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(d *Detector) { d.log = log }
}

// NewDetector loads the model at modelPath and binds it to a compute
// device. forceCPU skips accelerator selection unconditionally;
// nativeClasses disables the 0-based to 1-based category remap (and
// with it, category validation).
func NewDetector(modelPath string, forceCPU, nativeClasses bool, opts ...Option) (*Detector, error) {
	device := SelectDevice(forceCPU)

	session, err := newORTSession(modelPath, device)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	d := newDetector(session, device, nativeClasses, opts...)
	d.log.Infof("model loaded on %s", device.Name())
	return d, nil
}

// NewDetectorWithSession wires a detector around an existing forward
// pass, skipping model loading and device selection. It lets callers
// embed an alternate engine behind the same pipeline.
func NewDetectorWithSession(session ForwardPass, device Device, nativeClasses bool, opts ...Option) *Detector {
	return newDetector(session, device, nativeClasses, opts...)
}

// newDetector wires a detector around an existing session. Split out so
// tests can substitute the forward pass.
func newDetector(session ForwardPass, device Device, nativeClasses bool, opts ...Option) *Detector {
	d := &Detector{
		session:       session,
		device:        device,
		pre:           NewPreprocessor(),
		log:           logrus.StandardLogger(),
		nativeClasses: nativeClasses,
		categories:    DefaultCategories,
		iouCutoff:     DefaultIoUCutoff,
	}
	for _, opt := range opts {
		opt(d)
	}

	// Capability is negotiated once; the decision is cached for the
	// detector's lifetime and surfaced to callers via
	// SuppressionFallback.
	if !device.SupportsOverlapSuppression() {
		d.suppressOnCPU = true
		d.log.Warnf("device %s does not support overlap suppression; routing that step through the CPU", device.Name())
	}

	return d
}

// SuppressionFallback reports whether overlap suppression runs on the
// CPU because the selected device cannot host it.
func (d *Detector) SuppressionFallback() bool {
	return d.suppressOnCPU
}

// Device returns the compute device selected at construction.
func (d *Detector) Device() Device {
	return d.device
}

// WarmUp runs one forward pass over a zero batch at the training size
// so the first real image does not pay session initialization latency.
func (d *Detector) WarmUp() error {
	batch := make([]float32, 3*ImageSize*ImageSize)
	_, _, _, err := d.session.Forward(batch, ImageSize, ImageSize)
	return err
}

// Close releases the model session.
func (d *Detector) Close() error {
	return d.session.Close()
}

// GenerateDetectionsOneImage applies the detector to one image.
//
// img must already be corrected for orientation metadata. imageID is
// echoed back verbatim in the result's file field. threshold is the
// confidence above which to include a proposal, in (0,1]. imageSize
// optionally overrides the inference target size for this call.
//
// The returned record is always well-formed. Errors inside the pipeline
// are caught at this boundary, logged with the image identifier, and
// recorded as a failure marker on the result; only configuration errors
// (invalid threshold or target size) are returned as a Go error, since
// they indicate a caller bug rather than a data problem.
func (d *Detector) GenerateDetectionsOneImage(img image.Image, imageID string, threshold float64, imageSize *Size) (models.DetectionResult, error) {
	result := models.DetectionResult{
		File:       imageID,
		Detections: []models.Detection{},
	}

	if threshold <= 0 || threshold > 1 {
		return result, fmt.Errorf("invalid detection threshold %v: must be in (0,1]", threshold)
	}

	target := Square(ImageSize)
	if imageSize != nil {
		if err := imageSize.Validate(); err != nil {
			return result, err
		}
		target = *imageSize
	}
	d.noteTargetSize(target)

	detections, maxConf, err := d.runPipeline(img, threshold, target)
	if err != nil {
		d.log.WithField("file", imageID).Errorf("image failed during inference: %+v", xerrors.New(err))
		result.Failure = FailureInfer
		return result, nil
	}

	result.Detections = detections
	result.MaxDetectionConf = maxConf
	return result, nil
}

// noteTargetSize drives the one-time warning state for user-supplied
// inference sizes.
func (d *Detector) noteTargetSize(target Size) {
	if target.isDefault() {
		d.sizeState = sizeDefault
		return
	}
	if d.sizeState == sizeDefault {
		d.sizeState = sizeOverridden
	}
	if d.sizeState == sizeOverridden {
		d.log.Warnf("using user-supplied image size %dx%d", target.Height, target.Width)
		d.sizeState = sizeWarned
	}
}

func (d *Detector) runPipeline(img image.Image, threshold float64, target Size) (detections []models.Detection, maxConf float64, err error) {
	// Terminal error handler for the image: a panic out of the cgo
	// boundary or a malformed image must not abort the caller's batch.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during inference: %v", r)
		}
	}()

	var timings models.PipelineTimings
	start := time.Now()

	padded, tr, err := Letterbox(img, target, Stride)
	if err != nil {
		return nil, 0, fmt.Errorf("letterbox: %w", err)
	}

	batch := d.pre.Run(padded)
	defer d.pre.Recycle(batch)
	timings.Preprocess = time.Since(start)

	inferStart := time.Now()
	bounds := padded.Bounds()
	pred, rows, channels, err := d.session.Forward(batch, bounds.Dy(), bounds.Dx())
	if err != nil {
		return nil, 0, err
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	if !d.nativeClasses && channels-5 != len(d.categories) {
		return nil, 0, fmt.Errorf("model reports %d native classes, expected %d", channels-5, len(d.categories))
	}

	candidates, err := decodeCandidates(pred, rows, channels, float32(threshold))
	if err != nil {
		return nil, 0, fmt.Errorf("decode predictions: %w", err)
	}

	kept := suppression.NonMax(candidates, d.iouCutoff)

	detections, maxConf, err = d.finalize(kept, tr)
	if err != nil {
		return nil, 0, err
	}
	timings.Postprocess = time.Since(postStart)
	timings.Total = time.Since(start)

	d.log.WithFields(logrus.Fields{
		"preprocess":  timings.Preprocess,
		"inference":   timings.Inference,
		"postprocess": timings.Postprocess,
		"total":       timings.Total,
	}).Debug("pipeline timings")

	return detections, maxConf, nil
}
