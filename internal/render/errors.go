package render

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/timeline"
)

// ErrCancelled is returned when the caller cancels a render. It is a
// non-result rather than a failure.
var ErrCancelled = errors.New("render cancelled")

// errTooManyAdapters guards the two-adapter ceiling of a session.
var errTooManyAdapters = errors.New("more than two decode adapters requested")

// Kind classifies render failures.
type Kind int

const (
	// KindInternal is any failure outside the other kinds.
	KindInternal Kind = iota
	// KindEmptyPlaylist means zero clips were supplied.
	KindEmptyPlaylist
	// KindInvalidRequest means the seam settings or options are malformed.
	KindInvalidRequest
	// KindSourceUnavailable means a clip's source could not be opened or probed.
	KindSourceUnavailable
	// KindDecode means a frame could not be decoded after one retry.
	KindDecode
	// KindEncode means the encoder rejected a frame or failed to finalize.
	KindEncode
	// KindCancelled means the caller cancelled the render.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindEmptyPlaylist:
		return "empty_playlist"
	case KindInvalidRequest:
		return "invalid_request"
	case KindSourceUnavailable:
		return "source_unavailable"
	case KindDecode:
		return "decode_error"
	case KindEncode:
		return "encode_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// describe is the user-facing phrase for a kind.
func (k Kind) describe() string {
	switch k {
	case KindEmptyPlaylist:
		return "playlist has no clips"
	case KindInvalidRequest:
		return "invalid render request"
	case KindSourceUnavailable:
		return "could not read source clip"
	case KindDecode:
		return "could not decode frame"
	case KindEncode:
		return "could not encode output"
	case KindCancelled:
		return "render cancelled"
	default:
		return "render failed"
	}
}

// Error is a render failure with the output timestamp where it happened.
type Error struct {
	Kind Kind
	// At is the output timeline position in seconds, or -1 when the failure
	// happened before the timeline existed.
	At float64
	// Clip is the name of the clip involved, if any.
	Clip string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.describe()
	if e.At >= 0 {
		msg = "failed at " + FormatTimestamp(e.At) + ": " + msg
	}
	if e.Clip != "" {
		msg += fmt.Sprintf(" %q", e.Clip)
	}
	if e.Err != nil && e.Err.Error() != e.Kind.describe() {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf classifies any error returned by the render path.
func KindOf(err error) Kind {
	var re *Error
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &re):
		return re.Kind
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, timeline.ErrEmptyPlaylist):
		return KindEmptyPlaylist
	case errors.Is(err, timeline.ErrSeamOutOfRange),
		errors.Is(err, timeline.ErrInvalidTransition),
		errors.Is(err, timeline.ErrSeamCount),
		errors.Is(err, timeline.ErrInvalidDuration),
		errors.Is(err, clip.ErrInvalidOrder):
		return KindInvalidRequest
	case errors.Is(err, decode.ErrSourceUnavailable), errors.Is(err, clip.ErrPlaylistNotFound):
		return KindSourceUnavailable
	case errors.Is(err, decode.ErrDecode):
		return KindDecode
	case errors.Is(err, encode.ErrEncode):
		return KindEncode
	default:
		return KindInternal
	}
}

// TimestampOf returns the failure position carried by err, or -1.
func TimestampOf(err error) float64 {
	var re *Error
	if errors.As(err, &re) {
		return re.At
	}
	return -1
}

// FormatTimestamp renders seconds as m:ss, or h:mm:ss from one hour on.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	h, m, s := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// wrap builds an *Error from err, keeping an existing one untouched.
func wrap(err error, at float64, clipName string) error {
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Kind: KindOf(err), At: at, Clip: clipName, Err: err}
}
