package detections

import (
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Device is a compute device capable of executing the forward pass. The
// capability query replaces scattered device-string comparisons: the
// engine asks once at construction whether overlap suppression can stay
// on the device, and caches the answer.
type Device interface {
	Name() string
	// SupportsOverlapSuppression reports whether the overlap-suppression
	// step can run against this device's output directly, or must be
	// routed through the CPU.
	SupportsOverlapSuppression() bool

	configure(opts *ort.SessionOptions) error
}

type cpuDevice struct{}

func (cpuDevice) Name() string                     { return "cpu" }
func (cpuDevice) SupportsOverlapSuppression() bool { return true }

func (cpuDevice) configure(*ort.SessionOptions) error { return nil }

type cudaDevice struct{}

func (cudaDevice) Name() string                     { return "cuda" }
func (cudaDevice) SupportsOverlapSuppression() bool { return true }

func (cudaDevice) configure(opts *ort.SessionOptions) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()
	if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
		return err
	}
	return opts.AppendExecutionProviderCUDA(cudaOpts)
}

// coremlDevice is the Apple accelerator path. CoreML does not implement
// the suppression operator, so its output is pulled back to the CPU for
// that step only.
type coremlDevice struct{}

func (coremlDevice) Name() string                     { return "coreml" }
func (coremlDevice) SupportsOverlapSuppression() bool { return false }

func (coremlDevice) configure(opts *ort.SessionOptions) error {
	return opts.AppendExecutionProviderCoreML(0)
}

// SelectDevice picks the compute device once, at construction time:
// CUDA when available, the Apple accelerator on darwin, otherwise CPU.
// forceCPU wins unconditionally.
func SelectDevice(forceCPU bool) Device {
	if forceCPU {
		return cpuDevice{}
	}
	if cudaAvailable() {
		return cudaDevice{}
	}
	if runtime.GOOS == "darwin" {
		return coremlDevice{}
	}
	return cpuDevice{}
}

func cudaAvailable() bool {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return false
	}
	cudaOpts.Destroy()
	return true
}
