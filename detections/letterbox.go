package detections

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Size is a target inference size in pixels.
type Size struct {
	Height int
	Width  int
}

// Square returns a square target size.
func Square(n int) Size {
	return Size{Height: n, Width: n}
}

// Validate reports whether the size is usable as a letterbox target.
func (s Size) Validate() error {
	if s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("invalid image size %dx%d: dimensions must be positive", s.Height, s.Width)
	}
	return nil
}

func (s Size) isDefault() bool {
	return s.Height == ImageSize && s.Width == ImageSize
}

// Transform records the scale and padding applied by Letterbox so that
// post-processing can map box coordinates back to the original image's
// pixel grid. The composition of the forward and inverse transforms is
// an identity within ±1 pixel.
type Transform struct {
	// Gain is the uniform scale factor from original to resized pixels.
	Gain float64
	// PadX and PadY are the left and top border widths in padded-image
	// pixels.
	PadX float64
	PadY float64
	// SrcWidth and SrcHeight are the original image dimensions.
	SrcWidth  int
	SrcHeight int
}

// ToOriginal maps a box from padded-image pixel space back to integer
// pixel coordinates in the original image, clipped to its bounds.
func (t Transform) ToOriginal(x1, y1, x2, y2 float32) (int, int, int, int) {
	return t.invert(x1, t.PadX, t.SrcWidth),
		t.invert(y1, t.PadY, t.SrcHeight),
		t.invert(x2, t.PadX, t.SrcWidth),
		t.invert(y2, t.PadY, t.SrcHeight)
}

func (t Transform) invert(v float32, pad float64, limit int) int {
	p := int(math.Round((float64(v) - pad) / t.Gain))
	if p < 0 {
		return 0
	}
	if p > limit {
		return limit
	}
	return p
}

// Letterbox scales img so its longest relevant dimension fits target
// while preserving aspect ratio, then pads the remainder with a neutral
// border so the final dimensions are multiples of stride. The returned
// Transform is the exact record of the scale and padding applied.
func Letterbox(img image.Image, target Size, stride int) (*image.NRGBA, Transform, error) {
	if err := target.Validate(); err != nil {
		return nil, Transform{}, err
	}

	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, Transform{}, fmt.Errorf("empty image %dx%d", srcW, srcH)
	}

	gain := math.Min(float64(target.Height)/float64(srcH), float64(target.Width)/float64(srcW))
	unpadW := int(math.Round(float64(srcW) * gain))
	unpadH := int(math.Round(float64(srcH) * gain))

	// Minimal stride-aligned padding, split evenly between both sides.
	dw := float64((target.Width-unpadW)%stride) / 2
	dh := float64((target.Height-unpadH)%stride) / 2
	left := int(math.Round(dw - 0.1))
	right := int(math.Round(dw + 0.1))
	top := int(math.Round(dh - 0.1))
	bottom := int(math.Round(dh + 0.1))

	resized := imaging.Resize(img, unpadW, unpadH, imaging.Linear)
	padded := resized
	if left+right+top+bottom > 0 {
		canvas := imaging.New(unpadW+left+right, unpadH+top+bottom,
			color.NRGBA{PadValue, PadValue, PadValue, 255})
		padded = imaging.Paste(canvas, resized, image.Pt(left, top))
	}

	tr := Transform{
		Gain:      gain,
		PadX:      float64(left),
		PadY:      float64(top),
		SrcWidth:  srcW,
		SrcHeight: srcH,
	}
	return padded, tr, nil
}
