package detections

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// ForwardPass executes the loaded model on one preprocessed
// single-image batch. batch is a CHW buffer of length 3*width*height;
// the return value is the raw prediction grid, rows candidate rows of
// channels values each (cx, cy, w, h, objectness, per-class scores), in
// the padded-image coordinate space.
type ForwardPass interface {
	Forward(batch []float32, height, width int) (pred []float32, rows, channels int, err error)
	Close() error
}

// ortSession wraps an ONNX Runtime session. A dynamic session is used
// because the letterboxed input shape varies with the per-call target
// size.
type ortSession struct {
	session *ort.DynamicAdvancedSession
}

func newORTSession(modelPath string, device Device) (*ortSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer opts.Destroy()

	if err := opts.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set intra-op threads: %w", err)
	}
	if err := opts.SetInterOpNumThreads(runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("set inter-op threads: %w", err)
	}
	if err := device.configure(opts); err != nil {
		return nil, fmt.Errorf("configure %s execution provider: %w", device.Name(), err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", modelPath, err)
	}

	return &ortSession{session: session}, nil
}

func (s *ortSession) Forward(batch []float32, height, width int) ([]float32, int, int, error) {
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(height), int64(width)), batch)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, 0, 0, fmt.Errorf("model inference: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, 0, fmt.Errorf("unexpected output tensor type %T", outputs[0])
	}

	shape := out.GetShape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, 0, 0, fmt.Errorf("unexpected output shape %v, want [1 N C]", shape)
	}

	// Copy out of the tensor before it is destroyed.
	pred := make([]float32, len(out.GetData()))
	copy(pred, out.GetData())

	return pred, int(shape[1]), int(shape[2]), nil
}

func (s *ortSession) Close() error {
	if s.session != nil {
		return s.session.Destroy()
	}
	return nil
}
