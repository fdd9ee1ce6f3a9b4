// Package encode turns composited frames and per-clip audio slices into one
// playable container buffer.
package encode

import (
	"context"
	"errors"
	"image"
)

// Static errors for encoding.
var (
	// ErrEncode wraps every failure reported by an Encoder.
	ErrEncode = errors.New("encode failed")
	// ErrOutOfOrder is returned when a timestamp does not advance.
	ErrOutOfOrder = errors.New("timestamps must increase")
	// ErrFinalized is returned when the encoder is used after Finalize.
	ErrFinalized = errors.New("encoder already finalized")
	// ErrAborted is returned when the encoder is used after Abort.
	ErrAborted = errors.New("encoder aborted")
	// ErrFrameSize is returned when a frame does not match the output size.
	ErrFrameSize = errors.New("frame size does not match output")
	// ErrNoFrames is returned by Finalize when nothing was pushed.
	ErrNoFrames = errors.New("no frames were pushed")
)

// Segment is a slice of one source's own audio placed on the output timeline.
type Segment struct {
	// Source is the media location providing the audio.
	Source string
	// HasAudio is false for clips without an audio stream; the slice is
	// filled with silence.
	HasAudio bool
	// OutputStart is the segment's start on the output timeline.
	OutputStart float64
	// SourceStart is the offset into the source's audio.
	SourceStart float64
	// Duration is the segment length in seconds.
	Duration float64
	// CrossfadeIn is how much the segment overlaps its predecessor.
	CrossfadeIn float64
}

// Encoder accepts frames and audio in presentation order.
//
// An Encoder is owned by one render session and is not safe for concurrent
// use.
type Encoder interface {
	// PushFrame queues a frame for presentation time t. It blocks while the
	// internal queue is full and returns early if ctx is cancelled.
	PushFrame(ctx context.Context, frame *image.RGBA, t float64) error
	// PushAudio records an audio segment. Segment starts must not decrease.
	PushAudio(ctx context.Context, seg Segment) error
	// Finalize flushes everything and returns the complete output. It must
	// be called exactly once, after the last frame.
	Finalize(ctx context.Context) ([]byte, error)
	// Abort discards all work without producing output. It is safe to call
	// after Finalize or more than once.
	Abort() error
}

// Options describe the output stream.
type Options struct {
	Width  int
	Height int
	FPS    float64
	// Quality in [0,1], 0 best. Used when Bitrate is zero.
	Quality float64
	// Bitrate in bits per second; zero selects Quality.
	Bitrate int
	// QueueSize bounds the frames buffered ahead of the writer.
	QueueSize int
}

// Factory creates one Encoder per render session.
type Factory interface {
	NewEncoder(ctx context.Context, opts Options) (Encoder, error)
}

// Container properties of the produced output.
const (
	Extension   = "mp4"
	ContentType = "video/mp4"
)

// DefaultQueueSize bounds the encoder's frame queue.
const DefaultQueueSize = 8

// packed returns frame's pixels as a tightly packed RGBA buffer, copying only
// when the frame is a sub-image.
func packed(frame *image.RGBA) []byte {
	w, h := frame.Rect.Dx(), frame.Rect.Dy()
	if frame.Stride == w*4 && len(frame.Pix) == w*h*4 {
		return frame.Pix
	}
	out := make([]byte, 0, w*h*4)
	for y := 0; y < h; y++ {
		off := y * frame.Stride
		out = append(out, frame.Pix[off:off+w*4]...)
	}
	return out
}
