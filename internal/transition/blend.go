package transition

import (
	"errors"
	"fmt"
	"image"
	"math"
)

// Static errors for compositing.
var (
	// ErrSizeMismatch is returned when the two source frames differ in size.
	ErrSizeMismatch = errors.New("frames must have identical bounds")
	// ErrNoBlend is returned when Blend is asked to composite a hard cut.
	ErrNoBlend = errors.New("transition kind None has no blend function")
	// ErrNilFrame is returned when a source frame is missing.
	ErrNilFrame = errors.New("nil frame")
)

// Func composites a and b into dst at the given progress. All three frames
// share the same bounds and progress is already clamped to [0,1].
type Func func(dst, a, b *image.RGBA, progress float64)

var (
	black = [4]uint8{0, 0, 0, 0xff}
	white = [4]uint8{0xff, 0xff, 0xff, 0xff}
)

// funcFor maps a kind to its blend function.
func funcFor(kind Kind) (Func, error) {
	switch kind {
	case None:
		return nil, ErrNoBlend
	case Fade:
		return fade, nil
	case FadeToBlack:
		return dipThrough(black), nil
	case FadeToWhite:
		return dipThrough(white), nil
	case SlideLeft:
		return slideLeft, nil
	case SlideRight:
		return slideRight, nil
	case WipeLeft:
		return wipeLeft, nil
	case WipeRight:
		return wipeRight, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
}

// Blend composites frameA (outgoing) and frameB (incoming) into a new frame.
func Blend(kind Kind, a, b *image.RGBA, progress float64) (*image.RGBA, error) {
	if a == nil || b == nil {
		return nil, ErrNilFrame
	}
	dst := image.NewRGBA(a.Rect)
	if err := BlendInto(dst, kind, a, b, progress); err != nil {
		return nil, err
	}
	return dst, nil
}

// BlendInto is Blend writing into a caller-owned destination frame, which lets
// a long render reuse one buffer per tick. dst must not alias a or b.
func BlendInto(dst *image.RGBA, kind Kind, a, b *image.RGBA, progress float64) error {
	if a == nil || b == nil || dst == nil {
		return ErrNilFrame
	}
	fn, err := funcFor(kind)
	if err != nil {
		return err
	}
	if !sameSize(a, b) || !sameSize(a, dst) {
		return fmt.Errorf("%w: a=%v b=%v dst=%v", ErrSizeMismatch, a.Rect.Size(), b.Rect.Size(), dst.Rect.Size())
	}
	fn(dst, a, b, ClampProgress(progress))
	return nil
}

// ClampProgress clamps p to [0,1]; NaN becomes 0.
func ClampProgress(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func sameSize(a, b *image.RGBA) bool {
	return a.Rect.Dx() == b.Rect.Dx() && a.Rect.Dy() == b.Rect.Dy()
}

// lerp mixes x toward y by f. f==0 yields x exactly and f==1 yields y exactly.
func lerp(x, y uint8, f float64) uint8 {
	return uint8(float64(x)*(1-f) + float64(y)*f + 0.5)
}

// row returns the pixel slice of row y (relative to the frame origin).
func row(img *image.RGBA, y int) []uint8 {
	off := y * img.Stride
	return img.Pix[off : off+img.Rect.Dx()*4]
}

func copyFrame(dst, src *image.RGBA) {
	h := src.Rect.Dy()
	for y := 0; y < h; y++ {
		copy(row(dst, y), row(src, y))
	}
}

func fade(dst, a, b *image.RGBA, p float64) {
	switch p {
	case 0:
		copyFrame(dst, a)
		return
	case 1:
		copyFrame(dst, b)
		return
	}
	h := a.Rect.Dy()
	for y := 0; y < h; y++ {
		ra, rb, rd := row(a, y), row(b, y), row(dst, y)
		for i := range rd {
			rd[i] = lerp(ra[i], rb[i], p)
		}
	}
}

// dipThrough blends a toward a solid colour over the first half and the
// colour toward b over the second. The midpoint is the solid colour exactly.
func dipThrough(c [4]uint8) Func {
	return func(dst, a, b *image.RGBA, p float64) {
		src, f, toColour := a, p*2, true
		if p >= 0.5 {
			src, f, toColour = b, (p-0.5)*2, false
		}
		h := src.Rect.Dy()
		for y := 0; y < h; y++ {
			rs, rd := row(src, y), row(dst, y)
			for i := range rd {
				if toColour {
					rd[i] = lerp(rs[i], c[i%4], f)
				} else {
					rd[i] = lerp(c[i%4], rs[i], f)
				}
			}
		}
	}
}

// slideLeft pushes b in from the right: b's left edge sits at w*(1-p) while a
// is shifted left by w*p. No alpha, hard edge.
func slideLeft(dst, a, b *image.RGBA, p float64) {
	w := a.Rect.Dx()
	edge := int(math.Round(float64(w) * (1 - p)))
	shift := w - edge
	h := a.Rect.Dy()
	for y := 0; y < h; y++ {
		ra, rb, rd := row(a, y), row(b, y), row(dst, y)
		copy(rd[:edge*4], ra[shift*4:])
		copy(rd[edge*4:], rb[:shift*4])
	}
}

// slideRight mirrors slideLeft: b enters from the left edge.
func slideRight(dst, a, b *image.RGBA, p float64) {
	w := a.Rect.Dx()
	edge := int(math.Round(float64(w) * p))
	h := a.Rect.Dy()
	for y := 0; y < h; y++ {
		ra, rb, rd := row(a, y), row(b, y), row(dst, y)
		copy(rd[:edge*4], rb[(w-edge)*4:])
		copy(rd[edge*4:], ra[:(w-edge)*4])
	}
}

// wipeLeft reveals b left of the line x = w*p and keeps a to the right.
func wipeLeft(dst, a, b *image.RGBA, p float64) {
	w := a.Rect.Dx()
	edge := int(math.Round(float64(w) * p))
	h := a.Rect.Dy()
	for y := 0; y < h; y++ {
		ra, rb, rd := row(a, y), row(b, y), row(dst, y)
		copy(rd[:edge*4], rb[:edge*4])
		copy(rd[edge*4:], ra[edge*4:])
	}
}

// wipeRight reveals b right of the line x = w*(1-p) and keeps a to the left.
func wipeRight(dst, a, b *image.RGBA, p float64) {
	w := a.Rect.Dx()
	edge := int(math.Round(float64(w) * (1 - p)))
	h := a.Rect.Dy()
	for y := 0; y < h; y++ {
		ra, rb, rd := row(a, y), row(b, y), row(dst, y)
		copy(rd[:edge*4], ra[:edge*4])
		copy(rd[edge*4:], rb[edge*4:])
	}
}
