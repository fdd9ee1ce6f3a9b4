package decode

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
)

// Adapter serves frames of one clip at the output resolution. It is not safe
// for concurrent use; the scheduler queries each adapter from one goroutine
// at a time.
type Adapter struct {
	name   string
	src    Source
	width  int
	height int
	logger *slog.Logger

	retries int
	closed  bool
}

// NewAdapter wraps src, resampling frames to width x height.
func NewAdapter(name string, src Source, width, height int, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{name: name, src: src, width: width, height: height, logger: logger}
}

// Open opens location through opener and wraps it in an Adapter.
func Open(ctx context.Context, opener Opener, name, location string, width, height int, logger *slog.Logger) (*Adapter, error) {
	src, err := opener.Open(ctx, location)
	if err != nil {
		return nil, err
	}
	return NewAdapter(name, src, width, height, logger), nil
}

// Name returns the clip name the adapter serves.
func (a *Adapter) Name() string {
	return a.name
}

// Info returns the underlying source metadata.
func (a *Adapter) Info() Info {
	return a.src.Info()
}

// Retries returns how many reads needed a re-seek.
func (a *Adapter) Retries() int {
	return a.retries
}

// Frame returns the frame at clip-relative time t. A failed read is retried
// once after re-seeking; a second consecutive failure returns ErrDecode.
func (a *Adapter) Frame(ctx context.Context, t float64) (*image.RGBA, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := a.src.ReadAt(t)
	if err != nil {
		a.retries++
		a.logger.Warn("frame decode failed, retrying after seek",
			slog.String("clip", a.name),
			slog.Float64("t", t),
			slog.String("error", err.Error()),
		)
		if seekErr := a.src.Seek(t); seekErr != nil {
			return nil, fmt.Errorf("%w: %s at %.3fs: seek: %w", ErrDecode, a.name, t, seekErr)
		}
		img, err = a.src.ReadAt(t)
		if err != nil {
			return nil, fmt.Errorf("%w: %s at %.3fs: %w", ErrDecode, a.name, t, err)
		}
	}
	return Fit(img, a.width, a.height), nil
}

// Close releases the source. Closing twice is a no-op.
func (a *Adapter) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return a.src.Close()
}

// Fit letterboxes img into a w x h frame: it is scaled to fit while keeping its
// aspect ratio and centred on black. Frames already at size are returned as is.
func Fit(img *image.RGBA, w, h int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
		return img
	}
	// imaging.Fit never upscales, so size the target explicitly.
	scale := math.Min(float64(w)/float64(b.Dx()), float64(h)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))
	scaled := imaging.Resize(img, min(nw, w), min(nh, h), imaging.Lanczos)
	canvas := imaging.New(w, h, color.NRGBA{A: 0xff})
	canvas = imaging.PasteCenter(canvas, scaled)

	// Video frames are opaque, so NRGBA and RGBA pixel layouts coincide.
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(out.Pix, canvas.Pix)
	return out
}
