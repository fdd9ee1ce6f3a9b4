// Package timeline converts an ordered list of probed clips and per-seam
// transition settings into absolute play windows on the output timeline.
package timeline

import (
	"errors"
	"fmt"
	"math"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/transition"
)

// Static errors for timeline construction.
var (
	// ErrEmptyPlaylist is returned when no clips are supplied.
	ErrEmptyPlaylist = errors.New("playlist has no clips")
	// ErrSeamCount is returned when the number of seam specs is not clips-1.
	ErrSeamCount = errors.New("seam count must equal clip count minus one")
	// ErrInvalidDuration is returned when a clip has a non-positive duration.
	ErrInvalidDuration = errors.New("clip duration must be positive")
	// ErrSeamOutOfRange is returned when a seam setting addresses a missing seam.
	ErrSeamOutOfRange = errors.New("seam index out of range")
	// ErrInvalidTransition is returned for an unknown kind or a negative duration.
	ErrInvalidTransition = errors.New("invalid transition")
)

// Default seam transition applied when the caller leaves a seam unset.
const (
	DefaultKind     = transition.Fade
	DefaultDuration = 0.5
)

// TransitionSpec is the transition attached to one seam.
type TransitionSpec struct {
	Kind     transition.Kind
	Duration float64 // seconds
}

// DefaultSpec returns the transition used for unset seams.
func DefaultSpec() TransitionSpec {
	return TransitionSpec{Kind: DefaultKind, Duration: DefaultDuration}
}

// IsCut reports whether the transition produces no overlap.
func (s TransitionSpec) IsCut() bool {
	return s.Kind == transition.None || s.Duration <= 0
}

// SeamSetting assigns a transition to seam SeamIndex, the boundary between
// clip SeamIndex and clip SeamIndex+1.
type SeamSetting struct {
	SeamIndex int
	Kind      transition.Kind
	Duration  float64
}

// Clip is a clip descriptor with its probed duration.
type Clip struct {
	clip.Descriptor
	Duration float64
}

// Entry is one clip's play window in output coordinates.
type Entry struct {
	Clip      Clip
	StartTime float64
	EndTime   float64
}

// Duration returns the length of the entry's window.
func (e Entry) Duration() float64 {
	return e.EndTime - e.StartTime
}

// Timeline is the immutable result of Build.
type Timeline struct {
	entries []Entry
	seams   []TransitionSpec // clamped, len(entries)-1
	total   float64
}

// Seams expands a sparse list of seam settings into exactly n-1 specs for n
// clips. Seams without a setting use def.
func Seams(n int, settings []SeamSetting, def TransitionSpec) ([]TransitionSpec, error) {
	if n <= 0 {
		return nil, ErrEmptyPlaylist
	}
	specs := make([]TransitionSpec, n-1)
	for i := range specs {
		specs[i] = def
	}
	for _, s := range settings {
		if s.SeamIndex < 0 || s.SeamIndex >= n-1 {
			return nil, fmt.Errorf("%w: seam %d for %d clips", ErrSeamOutOfRange, s.SeamIndex, n)
		}
		if !s.Kind.Valid() || s.Duration < 0 || math.IsNaN(s.Duration) {
			return nil, fmt.Errorf("%w: seam %d kind=%s duration=%v", ErrInvalidTransition, s.SeamIndex, s.Kind, s.Duration)
		}
		specs[s.SeamIndex] = TransitionSpec{Kind: s.Kind, Duration: s.Duration}
	}
	return specs, nil
}

// ClampOverlap returns the effective overlap for a seam between clips of
// durations a and b. A request longer than the shorter clip is reduced to
// half of it, so both clips stay visible on their own outside the overlap.
func ClampOverlap(spec TransitionSpec, a, b float64) float64 {
	if spec.IsCut() {
		return 0
	}
	shorter := math.Min(a, b)
	if spec.Duration > shorter {
		return shorter / 2
	}
	return spec.Duration
}

// Build lays the clips out on the output timeline.
func Build(clips []Clip, seams []TransitionSpec) (*Timeline, error) {
	if len(clips) == 0 {
		return nil, ErrEmptyPlaylist
	}
	if len(seams) != len(clips)-1 {
		return nil, fmt.Errorf("%w: %d clips, %d seams", ErrSeamCount, len(clips), len(seams))
	}
	for i, c := range clips {
		if c.Duration <= 0 || math.IsNaN(c.Duration) || math.IsInf(c.Duration, 0) {
			return nil, fmt.Errorf("%w: clip %d (%s) has duration %v", ErrInvalidDuration, i, c.Name, c.Duration)
		}
	}

	clamped := make([]TransitionSpec, len(seams))
	for i, s := range seams {
		d := ClampOverlap(s, clips[i].Duration, clips[i+1].Duration)
		// A clip must never be covered by both of its seams at once.
		if i > 0 && clamped[i-1].Duration+d > clips[i].Duration {
			d = clips[i].Duration - clamped[i-1].Duration
		}
		if d <= 0 {
			clamped[i] = TransitionSpec{Kind: transition.None}
			continue
		}
		clamped[i] = TransitionSpec{Kind: s.Kind, Duration: d}
	}

	entries := make([]Entry, len(clips))
	cursor := 0.0
	for i, c := range clips {
		start := cursor
		if i > 0 {
			start = cursor - clamped[i-1].Duration
		}
		entries[i] = Entry{Clip: c, StartTime: start, EndTime: start + c.Duration}
		cursor = entries[i].EndTime
	}

	return &Timeline{entries: entries, seams: clamped, total: cursor}, nil
}

// Entries returns a copy of the timeline entries.
func (tl *Timeline) Entries() []Entry {
	out := make([]Entry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// Entry returns entry i.
func (tl *Timeline) Entry(i int) Entry {
	return tl.entries[i]
}

// Len returns the number of entries.
func (tl *Timeline) Len() int {
	return len(tl.entries)
}

// Seams returns a copy of the clamped seam specs.
func (tl *Timeline) Seams() []TransitionSpec {
	out := make([]TransitionSpec, len(tl.seams))
	copy(out, tl.seams)
	return out
}

// Overlap returns the clamped overlap of seam i in seconds.
func (tl *Timeline) Overlap(i int) float64 {
	return tl.seams[i].Duration
}

// TotalDuration is the sum of clip durations minus the sum of overlaps.
func (tl *Timeline) TotalDuration() float64 {
	return tl.total
}

// Window describes what is visible at one instant.
type Window struct {
	// Current is the outgoing (or only) entry index.
	Current int
	// Next is the incoming entry index, or -1 outside an overlap.
	Next int
	// Seam is the seam being crossed, or -1 outside an overlap.
	Seam int
	// Kind is the seam's transition kind inside an overlap.
	Kind transition.Kind
	// Progress is the clamped position within the overlap.
	Progress float64
}

// InOverlap reports whether two entries must be blended.
func (w Window) InOverlap() bool {
	return w.Next >= 0
}

// At returns the window visible at output time t. Times before zero map to the
// first entry and times past the end map to the last.
func (tl *Timeline) At(t float64) Window {
	last := len(tl.entries) - 1
	cur := last
	for i, e := range tl.entries {
		if t < e.EndTime {
			cur = i
			break
		}
	}
	w := Window{Current: cur, Next: -1, Seam: -1}
	if cur == last {
		return w
	}
	next := tl.entries[cur+1]
	if t >= next.StartTime && tl.seams[cur].Duration > 0 {
		w.Next = cur + 1
		w.Seam = cur
		w.Kind = tl.seams[cur].Kind
		w.Progress = transition.ClampProgress((t - next.StartTime) / tl.seams[cur].Duration)
	}
	return w
}

// LocalTime converts output time t into entry i's clip-relative time, clamped
// into the clip.
func (tl *Timeline) LocalTime(i int, t float64) float64 {
	e := tl.entries[i]
	local := t - e.StartTime
	if local < 0 {
		return 0
	}
	if local > e.Clip.Duration {
		return e.Clip.Duration
	}
	return local
}
