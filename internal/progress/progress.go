// Package progress publishes render progress to observers at a throttled rate
// and carries the cooperative cancellation flag checked by the scheduler.
package progress

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Stage is a coarse phase of a render.
type Stage int

const (
	// Loading resolves clip metadata.
	Loading Stage = iota
	// Decoding is reported while sources are opened for the frame loop.
	Decoding
	// Compositing covers the frame loop (decode and blend are interleaved).
	Compositing
	// Encoding covers encoder finalization.
	Encoding
	// Finalizing packages the output buffer for delivery.
	Finalizing
)

func (s Stage) String() string {
	switch s {
	case Loading:
		return "loading"
	case Decoding:
		return "decoding"
	case Compositing:
		return "compositing"
	case Encoding:
		return "encoding"
	case Finalizing:
		return "finalizing"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	for st := Loading; st <= Finalizing; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// Progress is one observable update. A fresh value is created for every
// update; observers must not rely on identity across calls.
type Progress struct {
	Stage   Stage  `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
}

// Observer receives progress updates. It is called synchronously from the
// render goroutine and should return quickly.
type Observer func(Progress)

// DefaultInterval coalesces updates to about ten per second.
const DefaultInterval = 100 * time.Millisecond

// Reporter throttles progress updates and exposes the cancellation flag.
type Reporter struct {
	observer Observer
	interval time.Duration
	now      func() time.Time

	cancelled atomic.Bool

	mu       sync.Mutex
	stage    Stage
	percent  int
	last     time.Time
	emitted  bool
	lastSent Progress
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithInterval sets the minimum time between two ordinary updates.
func WithInterval(d time.Duration) Option {
	return func(r *Reporter) {
		if d >= 0 {
			r.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// NewReporter creates a Reporter. A nil observer discards updates but the
// cancellation flag still works.
func NewReporter(observer Observer, opts ...Option) *Reporter {
	r := &Reporter{
		observer: observer,
		interval: DefaultInterval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cancel requests cooperative cancellation. Safe for concurrent use.
func (r *Reporter) Cancel() {
	r.cancelled.Store(true)
}

// Cancelled reports whether Cancel has been called.
func (r *Reporter) Cancelled() bool {
	return r.cancelled.Load()
}

// SetStage moves to a new stage and always emits an update.
func (r *Reporter) SetStage(stage Stage, percent int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
	r.emitLocked(clampPercent(percent), message, true)
}

// Update reports position t of total seconds within the current stage.
// Updates are coalesced to at most one per interval; reaching 100% is always
// reported.
func (r *Reporter) Update(t, total float64, message string) {
	pct := 100
	if total > 0 {
		pct = int(math.Floor(100 * t / total))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(clampPercent(pct), message, false)
}

// Done reports 100% in the current stage.
func (r *Reporter) Done(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emitLocked(100, message, true)
}

// Stage returns the current stage.
func (r *Reporter) Stage() Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Last returns the most recently emitted update.
func (r *Reporter) Last() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSent
}

func (r *Reporter) emitLocked(pct int, message string, force bool) {
	now := r.now()
	if !force && r.emitted {
		if pct == r.percent {
			return
		}
		if pct < 100 && now.Sub(r.last) < r.interval {
			return
		}
	}
	r.percent = pct
	r.last = now
	r.emitted = true
	r.lastSent = Progress{Stage: r.stage, Percent: pct, Message: message}
	if r.observer != nil {
		r.observer(r.lastSent)
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
