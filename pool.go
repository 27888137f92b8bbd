package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/camtrap/detection-service/detections"
)

const (
	// DefaultPoolSize is the number of detector instances when
	// POOL_SIZE is unset.
	DefaultPoolSize   = 2
	AcquireTimeout    = 30 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// DetectorConfig holds the construction inputs shared by every detector
// in the pool.
type DetectorConfig struct {
	ModelPath     string
	ForceCPU      bool
	NativeClasses bool
}

// DetectorFactory builds one ready-to-serve detector. The pool calls it
// at construction and again when replenishing after failures.
type DetectorFactory func() (*detections.Detector, error)

// DetectorPool serializes access to a fixed set of detector instances.
// A detector performs no internal locking, so each one is owned by at
// most one request at a time.
type DetectorPool struct {
	detectors chan *detections.Detector
	size      int
	factory   DetectorFactory
	device    string
	log       logrus.FieldLogger

	// mu guards closed and serializes channel sends against the close
	// in Destroy.
	mu         sync.Mutex
	closed     bool
	lastErrors []error

	metrics *PoolMetrics
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetricsSnapshot is a copyable view of the pool counters.
type PoolMetricsSnapshot struct {
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
}

func NewDetectorPool(factory DetectorFactory, size int, log logrus.FieldLogger) (*DetectorPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &DetectorPool{
		detectors: make(chan *detections.Detector, size),
		size:      size,
		factory:   factory,
		log:       log,
		metrics:   &PoolMetrics{},
	}

	for i := 0; i < size; i++ {
		detector, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("initialize detector %d: %w", i, err)
		}
		if i == 0 {
			pool.device = detector.Device().Name()
		}
		pool.detectors <- detector
	}

	go pool.healthCheck()

	return pool, nil
}

// Device reports the compute device the pool's detectors were bound to.
func (p *DetectorPool) Device() string {
	return p.device
}

func newPoolDetector(config DetectorConfig, log logrus.FieldLogger) (*detections.Detector, error) {
	detector, err := detections.NewDetector(
		config.ModelPath,
		config.ForceCPU,
		config.NativeClasses,
		detections.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}
	if err := detector.WarmUp(); err != nil {
		detector.Close()
		return nil, fmt.Errorf("warm up: %w", err)
	}
	return detector, nil
}

func (p *DetectorPool) Acquire(ctx context.Context) (*detections.Detector, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("pool is closed")
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	select {
	case detector, ok := <-p.detectors:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return detector, nil
	case <-time.After(AcquireTimeout):
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for an available detector")
	case <-ctx.Done():
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (p *DetectorPool) Release(detector *detections.Detector) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		detector.Close()
		return
	}

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	// The send happens under p.mu: the channel always has room for a
	// detector that was acquired from it, and Destroy cannot close it
	// mid-send.
	p.detectors <- detector
	p.mu.Unlock()
}

func (p *DetectorPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.detectors)

	for detector := range p.detectors {
		detector.Close()
	}
}

func (p *DetectorPool) healthCheck() {
	ticker := time.NewTicker(HealthCheckPeriod)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		currentSize := len(p.detectors)
		p.mu.Unlock()

		if currentSize < p.size {
			p.replenish(p.size - currentSize)
		}
	}
}

func (p *DetectorPool) replenish(count int) {
	for i := 0; i < count; i++ {
		detector, err := p.factory()
		if err != nil {
			p.recordError(err)
			continue
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			detector.Close()
			return
		}
		p.detectors <- detector
		p.mu.Unlock()
	}
}

func (p *DetectorPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.log.Errorf("pool replenish failed: %v", err)
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *DetectorPool) Metrics() PoolMetricsSnapshot {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolMetricsSnapshot{
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
	}
}
