package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/camtrap/detection-service/detections"
)

type AppState struct {
	Pool *DetectorPool
	Log  *logrus.Logger
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if os.Getenv("DEBUG") == "true" {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()
	log := newLogger()

	modelPath := os.Getenv("MODEL_PATH")
	if modelPath == "" {
		log.Fatal("MODEL_PATH is required")
	}
	if _, err := os.Stat(modelPath); err != nil {
		log.Fatalf("model file: %v", err)
	}

	libPath, err := locateRuntimeLibrary()
	if err != nil {
		log.Fatalf("locate onnxruntime: %v", err)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		log.Fatalf("initialize onnxruntime: %v", err)
	}
	defer ort.DestroyEnvironment()

	poolSize := DefaultPoolSize
	if s := os.Getenv("POOL_SIZE"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			log.Fatalf("invalid POOL_SIZE %q", s)
		}
		poolSize = n
	}

	config := DetectorConfig{
		ModelPath:     modelPath,
		ForceCPU:      os.Getenv("FORCE_CPU") == "true",
		NativeClasses: os.Getenv("NATIVE_CLASSES") == "true",
	}
	factory := func() (*detections.Detector, error) {
		return newPoolDetector(config, log)
	}
	pool, err := NewDetectorPool(factory, poolSize, log)
	if err != nil {
		log.Fatalf("create detector pool: %v", err)
	}
	defer pool.Destroy()

	state := &AppState{Pool: pool, Log: log}

	r := mux.NewRouter()
	r.HandleFunc("/detect", state.handleDetect).Methods("POST")
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", state.handleHealthz).Methods("GET")

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	srv := &http.Server{
		Handler:      r,
		Addr:         addr,
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  120 * time.Second,
	}

	log.Infof("starting server on %s (pool size %d)", addr, poolSize)
	log.Fatal(srv.ListenAndServe())
}

// handleDetect runs the pipeline once for a single image. The response
// is always the per-image result record; a record carrying a failure
// marker is still HTTP 200, since batch accounting happens downstream.
// Only request/configuration errors map to 4xx.
func (s *AppState) handleDetect(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	threshold, err := parseThreshold(r.URL.Query().Get("threshold"))
	if err != nil {
		sendErrorResponse(w, "invalid_threshold", err.Error(), http.StatusBadRequest)
		return
	}

	imageSize, err := parseImageSize(r.URL.Query().Get("image_size"))
	if err != nil {
		sendErrorResponse(w, "invalid_image_size", err.Error(), http.StatusBadRequest)
		return
	}

	imgBytes, imageID, err := readImageRequest(r)
	if err != nil {
		sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if id := r.URL.Query().Get("image_id"); id != "" {
		imageID = id
	}

	decodeStart := time.Now()
	img, _, err := image.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		sendErrorResponse(w, "invalid_image", "failed to decode image", http.StatusBadRequest)
		return
	}
	decodeTime := time.Since(decodeStart)

	detector, err := s.Pool.Acquire(r.Context())
	if err != nil {
		sendErrorResponse(w, "detector_unavailable", err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer s.Pool.Release(detector)

	result, err := detector.GenerateDetectionsOneImage(img, imageID, threshold, imageSize)
	if err != nil {
		// Configuration errors are caller bugs, not data problems.
		sendErrorResponse(w, "invalid_configuration", err.Error(), http.StatusBadRequest)
		return
	}

	s.Log.WithFields(logrus.Fields{
		"file":   imageID,
		"decode": decodeTime,
		"total":  time.Since(start),
	}).Debug("request served")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.Pool.Metrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.size,
		"device":           s.Pool.Device(),
		"detectors_in_use": m.InUse,
		"total_acquired":   m.TotalAcquired,
		"total_released":   m.TotalReleased,
		"acquire_failures": m.AcquireFailures,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *AppState) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func parseThreshold(raw string) (float64, error) {
	if raw == "" {
		return 0, fmt.Errorf("threshold query parameter is required")
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("threshold %q is not a number", raw)
	}
	if threshold <= 0 || threshold > 1 {
		return 0, fmt.Errorf("threshold %v must be in (0,1]", threshold)
	}
	return threshold, nil
}

// parseImageSize accepts "N" for a square target or "HxW".
func parseImageSize(raw string) (*detections.Size, error) {
	if raw == "" {
		return nil, nil
	}

	if h, w, ok := strings.Cut(raw, "x"); ok {
		height, err1 := strconv.Atoi(h)
		width, err2 := strconv.Atoi(w)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("image_size %q is not HxW", raw)
		}
		size := detections.Size{Height: height, Width: width}
		if err := size.Validate(); err != nil {
			return nil, err
		}
		return &size, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("image_size %q is not an integer or HxW", raw)
	}
	size := detections.Square(n)
	if err := size.Validate(); err != nil {
		return nil, err
	}
	return &size, nil
}

// readImageRequest extracts the image bytes and a default identifier
// from one of the three supported request shapes: JSON with a base64
// image, multipart form, or a raw body.
func readImageRequest(r *http.Request) ([]byte, string, error) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "application/json"):
		var req struct {
			Image string `json:"image"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, "", err
		}
		data, err := base64.StdEncoding.DecodeString(req.Image)
		return data, "image", err

	case strings.HasPrefix(contentType, "multipart/form-data"):
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, "", err
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", err
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		return data, header.Filename, err

	default:
		data, err := io.ReadAll(r.Body)
		return data, "image", err
	}
}
