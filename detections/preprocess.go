package detections

import (
	"image"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

var (
	useAVX2  = cpu.X86.HasAVX2
	useSSE41 = cpu.X86.HasSSE41
)

// rowKernel writes one row of normalized channel-planar values from an
// interleaved 4-byte-per-pixel source row.
type rowKernel func(dstR, dstG, dstB []float32, src []byte)

// Preprocessor converts letterboxed images to contiguous channel-first
// float32 buffers in [0,1], with a leading batch dimension of 1. Buffers
// are pooled; callers must Recycle them after the forward pass.
type Preprocessor struct {
	numWorkers int
	kernel     rowKernel
	pool       sync.Pool
}

func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		numWorkers: runtime.GOMAXPROCS(0),
		kernel:     pickRowKernel(),
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]float32, 0)
				return &buf
			},
		},
	}
}

func pickRowKernel() rowKernel {
	// Wider unrolling only pays off where the vector units exist to
	// back it up.
	switch {
	case runtime.GOARCH == "amd64" && useAVX2:
		return fillRowUnrolled8
	case runtime.GOARCH == "amd64" && useSSE41:
		return fillRowUnrolled4
	default:
		return fillRowScalar
	}
}

// Run fills a pooled CHW buffer from img. The returned slice has length
// 3*W*H and remains valid until Recycle is called.
func (p *Preprocessor) Run(img *image.NRGBA) []float32 {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	n := 3 * w * h

	bufp := p.pool.Get().(*[]float32)
	buf := *bufp
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}

	channelSize := w * h
	rowsPerWorker := h / p.numWorkers
	if rowsPerWorker == 0 {
		rowsPerWorker = h
	}

	var wg sync.WaitGroup
	for start := 0; start < h; start += rowsPerWorker {
		end := start + rowsPerWorker
		if end > h || h-end < rowsPerWorker {
			end = h
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				src := img.Pix[y*img.Stride : y*img.Stride+4*w]
				off := y * w
				p.kernel(
					buf[off:off+w],
					buf[channelSize+off:channelSize+off+w],
					buf[2*channelSize+off:2*channelSize+off+w],
					src,
				)
			}
		}(start, end)
		if end == h {
			break
		}
	}
	wg.Wait()

	return buf
}

// Recycle returns a buffer obtained from Run to the pool.
func (p *Preprocessor) Recycle(buf []float32) {
	p.pool.Put(&buf)
}

func fillRowScalar(dstR, dstG, dstB []float32, src []byte) {
	for x := 0; x < len(dstR); x++ {
		o := x * 4
		dstR[x] = float32(src[o]) / 255
		dstG[x] = float32(src[o+1]) / 255
		dstB[x] = float32(src[o+2]) / 255
	}
}

func fillRowUnrolled4(dstR, dstG, dstB []float32, src []byte) {
	x := 0
	for ; x+4 <= len(dstR); x += 4 {
		o := x * 4
		dstR[x+0] = float32(src[o+0]) / 255
		dstR[x+1] = float32(src[o+4]) / 255
		dstR[x+2] = float32(src[o+8]) / 255
		dstR[x+3] = float32(src[o+12]) / 255
		dstG[x+0] = float32(src[o+1]) / 255
		dstG[x+1] = float32(src[o+5]) / 255
		dstG[x+2] = float32(src[o+9]) / 255
		dstG[x+3] = float32(src[o+13]) / 255
		dstB[x+0] = float32(src[o+2]) / 255
		dstB[x+1] = float32(src[o+6]) / 255
		dstB[x+2] = float32(src[o+10]) / 255
		dstB[x+3] = float32(src[o+14]) / 255
	}
	fillRowScalar(dstR[x:], dstG[x:], dstB[x:], src[x*4:])
}

func fillRowUnrolled8(dstR, dstG, dstB []float32, src []byte) {
	x := 0
	for ; x+8 <= len(dstR); x += 8 {
		o := x * 4
		for k := 0; k < 8; k++ {
			dstR[x+k] = float32(src[o+4*k]) / 255
			dstG[x+k] = float32(src[o+4*k+1]) / 255
			dstB[x+k] = float32(src[o+4*k+2]) / 255
		}
	}
	fillRowScalar(dstR[x:], dstG[x:], dstB[x:], src[x*4:])
}
