package main

import (
	"fmt"
	"os"
	"runtime"
)

// locateRuntimeLibrary resolves the ONNX Runtime shared library.
// ONNXRUNTIME_SHARED_LIB wins when set; otherwise the per-platform
// name under ./third_party is tried, then the system library path.
func locateRuntimeLibrary() (string, error) {
	if p := os.Getenv("ONNXRUNTIME_SHARED_LIB"); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("ONNXRUNTIME_SHARED_LIB %s: %w", p, err)
		}
		return p, nil
	}

	for _, candidate := range platformLibraryCandidates() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIB")
}

func platformLibraryCandidates() []string {
	switch runtime.GOOS {
	case "windows":
		return []string{"third_party/onnxruntime.dll"}
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return []string{
				"third_party/onnxruntime_arm64.dylib",
				"/opt/homebrew/lib/libonnxruntime.dylib",
			}
		}
		return []string{
			"third_party/onnxruntime.dylib",
			"/usr/local/lib/libonnxruntime.dylib",
		}
	default:
		if runtime.GOARCH == "arm64" {
			return []string{
				"third_party/onnxruntime_arm64.so",
				"/usr/lib/libonnxruntime.so",
			}
		}
		return []string{
			"third_party/onnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
		}
	}
}
