package detections

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func TestPreprocessorChannelLayout(t *testing.T) {
	// 2x2 image with distinct per-pixel colors; the buffer must be
	// channel-planar (all R, then all G, then all B) in row-major order.
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	img.SetNRGBA(0, 0, color.NRGBA{255, 0, 0, 255})
	img.SetNRGBA(1, 0, color.NRGBA{0, 255, 0, 255})
	img.SetNRGBA(0, 1, color.NRGBA{0, 0, 255, 255})
	img.SetNRGBA(1, 1, color.NRGBA{51, 102, 153, 255})

	p := NewPreprocessor()
	buf := p.Run(img)
	defer p.Recycle(buf)

	if len(buf) != 12 {
		t.Fatalf("buffer length %d, want 12", len(buf))
	}

	want := []float32{
		// R plane
		1, 0, 0, 51.0 / 255,
		// G plane
		0, 1, 0, 102.0 / 255,
		// B plane
		0, 0, 1, 153.0 / 255,
	}
	for i := range want {
		if math.Abs(float64(buf[i]-want[i])) > 1e-6 {
			t.Errorf("buf[%d] = %v, want %v", i, buf[i], want[i])
		}
	}
}

func TestPreprocessorValuesInRange(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 37, 23))
	for y := 0; y < 23; y++ {
		for x := 0; x < 37; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 7), uint8(y * 11), uint8(x + y), 255})
		}
	}

	p := NewPreprocessor()
	buf := p.Run(img)
	defer p.Recycle(buf)

	if len(buf) != 3*37*23 {
		t.Fatalf("buffer length %d, want %d", len(buf), 3*37*23)
	}
	for i, v := range buf {
		if v < 0 || v > 1 {
			t.Fatalf("buf[%d] = %v outside [0,1]", i, v)
		}
	}
}

func TestRowKernelsAgree(t *testing.T) {
	const w = 19
	src := make([]byte, 4*w)
	for i := range src {
		src[i] = byte(i * 13)
	}

	kernels := map[string]rowKernel{
		"unrolled4": fillRowUnrolled4,
		"unrolled8": fillRowUnrolled8,
	}

	wantR := make([]float32, w)
	wantG := make([]float32, w)
	wantB := make([]float32, w)
	fillRowScalar(wantR, wantG, wantB, src)

	for name, k := range kernels {
		r := make([]float32, w)
		g := make([]float32, w)
		b := make([]float32, w)
		k(r, g, b, src)
		for x := 0; x < w; x++ {
			if r[x] != wantR[x] || g[x] != wantG[x] || b[x] != wantB[x] {
				t.Errorf("%s disagrees with scalar at x=%d", name, x)
				break
			}
		}
	}
}

func TestPreprocessorReusesBuffers(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	p := NewPreprocessor()

	buf := p.Run(img)
	p.Recycle(buf)
	buf2 := p.Run(img)
	defer p.Recycle(buf2)

	if len(buf2) != 3*8*8 {
		t.Fatalf("buffer length %d, want %d", len(buf2), 3*8*8)
	}
}
