// Package transition provides the pixel-level compositing functions used to
// join two clips at a seam. Every function is pure: it reads two source frames
// and a progress fraction and produces a new frame, without retaining state.
package transition

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the visual transition applied at a seam.
type Kind int

const (
	// None is a hard cut. The compositor is never invoked for it.
	None Kind = iota
	// Fade is a straight cross-dissolve from the outgoing to the incoming frame.
	Fade
	// FadeToBlack dips through solid black at the midpoint.
	FadeToBlack
	// FadeToWhite dips through solid white at the midpoint.
	FadeToWhite
	// SlideLeft pushes the incoming frame in from the right edge.
	SlideLeft
	// SlideRight pushes the incoming frame in from the left edge.
	SlideRight
	// WipeLeft reveals the incoming frame behind a line moving left to right.
	WipeLeft
	// WipeRight reveals the incoming frame behind a line moving right to left.
	WipeRight
)

// ErrUnknownKind is returned when a transition name cannot be parsed.
var ErrUnknownKind = errors.New("unknown transition kind")

var kindNames = [...]string{
	None:        "none",
	Fade:        "fade",
	FadeToBlack: "fade_to_black",
	FadeToWhite: "fade_to_white",
	SlideLeft:   "slide_left",
	SlideRight:  "slide_right",
	WipeLeft:    "wipe_left",
	WipeRight:   "wipe_right",
}

// Kinds returns every supported kind in declaration order.
func Kinds() []Kind {
	return []Kind{None, Fade, FadeToBlack, FadeToWhite, SlideLeft, SlideRight, WipeLeft, WipeRight}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= None && k <= WipeRight
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind converts a transition name into a Kind. Matching ignores case and
// accepts "-" or " " in place of "_", so "fadeToBlack" style names from the
// admin UI ("fade-to-black", "FadeToBlack") resolve too.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	for k, name := range kindNames {
		if norm == name || norm == strings.ReplaceAll(name, "_", "") {
			return Kind(k), nil
		}
	}
	if norm == "cut" {
		return None, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
