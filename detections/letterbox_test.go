package detections

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/disintegration/imaging"
)

func newTestImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := imaging.New(w, h, c)
	return img
}

func TestLetterboxDimensions(t *testing.T) {
	tests := []struct {
		name         string
		srcW, srcH   int
		target       Size
		wantW, wantH int
	}{
		{"wide landscape", 200, 100, Square(1280), 1280, 640},
		{"tall portrait", 100, 200, Square(1280), 640, 1280},
		{"square", 500, 500, Square(1280), 1280, 1280},
		{"odd dimensions", 123, 77, Square(1280), 1280, 832},
		{"rectangular target", 640, 480, Size{Height: 768, Width: 1280}, 1024, 768},
		{"smaller than stride", 10, 10, Square(64), 64, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := newTestImage(tt.srcW, tt.srcH, color.NRGBA{10, 20, 30, 255})
			padded, tr, err := Letterbox(img, tt.target, Stride)
			if err != nil {
				t.Fatalf("Letterbox failed: %v", err)
			}

			b := padded.Bounds()
			if b.Dx() != tt.wantW || b.Dy() != tt.wantH {
				t.Errorf("padded size %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.wantW, tt.wantH)
			}
			if b.Dx()%Stride != 0 || b.Dy()%Stride != 0 {
				t.Errorf("padded size %dx%d not stride-aligned", b.Dx(), b.Dy())
			}
			if tr.SrcWidth != tt.srcW || tr.SrcHeight != tt.srcH {
				t.Errorf("transform source %dx%d, want %dx%d", tr.SrcWidth, tr.SrcHeight, tt.srcW, tt.srcH)
			}
		})
	}
}

func TestLetterboxInvalidSize(t *testing.T) {
	img := newTestImage(10, 10, color.NRGBA{})
	for _, s := range []Size{{Height: 0, Width: 100}, {Height: 100, Width: -1}, {}} {
		if _, _, err := Letterbox(img, s, Stride); err == nil {
			t.Errorf("Letterbox(%+v) succeeded, want error", s)
		}
	}
}

func TestLetterboxPadColor(t *testing.T) {
	// Landscape source: padding is applied top and bottom.
	img := newTestImage(200, 95, color.NRGBA{0, 0, 0, 255})
	padded, tr, err := Letterbox(img, Square(1280), Stride)
	if err != nil {
		t.Fatalf("Letterbox failed: %v", err)
	}
	if tr.PadY == 0 {
		t.Fatal("expected vertical padding")
	}

	top := padded.NRGBAAt(padded.Bounds().Dx()/2, 0)
	if top.R != PadValue || top.G != PadValue || top.B != PadValue {
		t.Errorf("border pixel %v, want neutral %d", top, PadValue)
	}
	center := padded.NRGBAAt(padded.Bounds().Dx()/2, padded.Bounds().Dy()/2)
	if center.R != 0 || center.G != 0 || center.B != 0 {
		t.Errorf("content pixel %v, want black", center)
	}
}

// Round-trip property: a box mapped into padded space by the recorded
// transform and back through ToOriginal lands within ±1 pixel.
func TestTransformRoundTrip(t *testing.T) {
	tests := []struct {
		name       string
		srcW, srcH int
		target     Size
	}{
		{"landscape", 200, 100, Square(1280)},
		{"portrait", 480, 640, Square(1280)},
		{"odd", 123, 457, Square(1280)},
		{"small target", 97, 31, Square(320)},
		{"rectangular target", 1920, 1080, Size{Height: 768, Width: 1280}},
	}

	boxes := [][4]int{
		{0, 0, 10, 10},
		{5, 5, 50, 20},
		{0, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := newTestImage(tt.srcW, tt.srcH, color.NRGBA{128, 128, 128, 255})
			_, tr, err := Letterbox(img, tt.target, Stride)
			if err != nil {
				t.Fatalf("Letterbox failed: %v", err)
			}

			full := [4]int{0, 0, tt.srcW, tt.srcH}
			for _, box := range append(boxes, full) {
				// Forward map into padded space.
				px1 := float32(float64(box[0])*tr.Gain + tr.PadX)
				py1 := float32(float64(box[1])*tr.Gain + tr.PadY)
				px2 := float32(float64(box[2])*tr.Gain + tr.PadX)
				py2 := float32(float64(box[3])*tr.Gain + tr.PadY)

				x1, y1, x2, y2 := tr.ToOriginal(px1, py1, px2, py2)
				got := [4]int{x1, y1, x2, y2}
				for i := range got {
					if math.Abs(float64(got[i]-box[i])) > 1 {
						t.Errorf("box %v round-tripped to %v", box, got)
						break
					}
				}
			}
		})
	}
}

func TestToOriginalClipsToBounds(t *testing.T) {
	img := newTestImage(200, 100, color.NRGBA{})
	_, tr, err := Letterbox(img, Square(1280), Stride)
	if err != nil {
		t.Fatalf("Letterbox failed: %v", err)
	}

	x1, y1, x2, y2 := tr.ToOriginal(-50, -50, 1e6, 1e6)
	if x1 != 0 || y1 != 0 {
		t.Errorf("min corner (%d,%d), want (0,0)", x1, y1)
	}
	if x2 != 200 || y2 != 100 {
		t.Errorf("max corner (%d,%d), want (200,100)", x2, y2)
	}
}
