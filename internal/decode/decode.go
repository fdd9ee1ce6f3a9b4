// Package decode wraps media sources behind a frame-at-time interface. One
// Adapter serves one clip for the duration of its play window.
package decode

import (
	"context"
	"errors"
	"image"
)

// Static errors for decoding.
var (
	// ErrSourceUnavailable is returned when a clip's source cannot be opened or probed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrDecode is returned when a frame cannot be decoded after one retry.
	ErrDecode = errors.New("decode failed")
	// ErrClosed is returned when a closed adapter or source is used.
	ErrClosed = errors.New("decoder closed")
	// ErrNoFrames is returned when a source yields no frames at all.
	ErrNoFrames = errors.New("source produced no frames")
)

// Info is the metadata of one media source.
type Info struct {
	// Duration is the playable length in seconds.
	Duration float64
	// Width and Height are the native frame dimensions.
	Width  int
	Height int
	// FPS is the native frame rate.
	FPS float64
	// HasAudio reports whether the source carries an audio stream.
	HasAudio bool
}

// Prober reads source metadata without decoding frames.
type Prober interface {
	// Probe returns the metadata of the media at location.
	Probe(ctx context.Context, location string) (Info, error)
}

// Source decodes frames from one media source.
type Source interface {
	// Info returns the source metadata.
	Info() Info
	// ReadAt returns the frame visible at clip-relative time t. Calls with
	// non-decreasing t are cheap; going backwards may reopen the source.
	// The returned frame is owned by the caller.
	ReadAt(t float64) (*image.RGBA, error)
	// Seek repositions the decoder so the next ReadAt starts fresh near t.
	Seek(t float64) error
	// Close releases the decoder.
	Close() error
}

// Opener opens sources by location.
type Opener interface {
	// Open opens the media at location for decoding.
	Open(ctx context.Context, location string) (Source, error)
}
