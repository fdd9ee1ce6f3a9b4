package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"

	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/metrics"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/timeline"
	"github.com/maauso/highlight-reel/internal/transition"
)

// timeEpsilon absorbs floating point drift when comparing tick times with
// timeline boundaries.
const timeEpsilon = 1e-9

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// FPS is the output frame rate.
	FPS float64
	// PrefetchMargin opens the next clip this many seconds before it starts.
	PrefetchMargin float64
	// Audio lists the audio segments in output order.
	Audio []encode.Segment
	// Reporter receives progress and carries the cancellation flag.
	Reporter *progress.Reporter
	Logger   *slog.Logger
}

// Stats summarises a completed frame loop.
type Stats struct {
	Frames  int
	Blended int
	// Duration is the output timeline length in seconds.
	Duration float64
}

// Scheduler drives one session's frame loop: for every output tick it pulls
// the active clip frames, blends them inside overlaps and pushes the result
// to the encoder in increasing time order.
type Scheduler struct {
	session  *Session
	fps      float64
	prefetch float64
	audio    []encode.Segment
	reporter *progress.Reporter
	logger   *slog.Logger

	nextAudio int
	blendBuf  *image.RGBA
}

// NewScheduler creates a Scheduler for session.
func NewScheduler(session *Session, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: fps must be positive, got %v", errInvalidConfig, cfg.FPS)
	}
	if cfg.PrefetchMargin < 0 {
		cfg.PrefetchMargin = 0
	}
	if cfg.Reporter == nil {
		cfg.Reporter = progress.NewReporter(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		session:  session,
		fps:      cfg.FPS,
		prefetch: cfg.PrefetchMargin,
		audio:    cfg.Audio,
		reporter: cfg.Reporter,
		logger:   cfg.Logger,
	}, nil
}

var errInvalidConfig = errors.New("invalid scheduler config")

// Run executes the frame loop. On success the adapters are closed and the
// encoder is left open for Finalize. On failure or cancellation the whole
// session is closed, so the encoder is aborted and never finalized.
func (s *Scheduler) Run(ctx context.Context) (Stats, error) {
	tl := s.session.Timeline()
	total := tl.TotalDuration()
	stats := Stats{Duration: total}

	s.reporter.SetStage(progress.Compositing, 0, "compositing")

	for k := 0; ; k++ {
		t := float64(k) / s.fps
		if t >= total-timeEpsilon {
			break
		}

		if err := checkCancelled(ctx, s.reporter); err != nil {
			return stats, s.fail(&Error{Kind: KindCancelled, At: t, Err: err})
		}

		w := tl.At(t)
		s.releaseEnded(t)
		if err := s.openActive(ctx, t, w); err != nil {
			return stats, s.fail(err)
		}
		s.prefetchNext(ctx, t, w)

		frame, err := s.compose(ctx, t, w)
		if err != nil {
			return stats, s.fail(err)
		}
		if w.InOverlap() {
			stats.Blended++
			metrics.FramesTotal.WithLabelValues(metrics.ModeBlend).Inc()
		} else {
			metrics.FramesTotal.WithLabelValues(metrics.ModePass).Inc()
		}

		if err := s.pushAudio(ctx, t); err != nil {
			return stats, s.fail(s.encodeError(ctx, err, t))
		}
		if err := s.session.Encoder().PushFrame(ctx, frame, t); err != nil {
			return stats, s.fail(s.encodeError(ctx, err, t))
		}
		stats.Frames++

		s.reporter.Update(t, total, tl.Entry(w.Current).Clip.Name)
	}

	// Segments that start after the last tick still belong to the output.
	if err := s.pushAudio(ctx, total); err != nil {
		return stats, s.fail(s.encodeError(ctx, err, total))
	}
	s.session.CloseAdapters()
	s.reporter.Update(total, total, "frames complete")

	s.logger.Debug("frame loop complete",
		slog.Int("frames", stats.Frames),
		slog.Int("blended", stats.Blended),
		slog.Int("adapters_opened", s.session.TotalOpened()),
	)
	return stats, nil
}

func (s *Scheduler) fail(err error) error {
	if cerr := s.session.Close(); cerr != nil {
		s.logger.Warn("failed to release session", slog.String("error", cerr.Error()))
	}
	return err
}

// releaseEnded closes adapters whose play window is over.
func (s *Scheduler) releaseEnded(t float64) {
	tl := s.session.Timeline()
	for i := 0; i < tl.Len(); i++ {
		if s.session.IsOpen(i) && t >= tl.Entry(i).EndTime {
			s.session.Release(i)
		}
	}
}

// openActive makes sure the adapters needed at t are open. A prefetched
// adapter that is not needed yet is released first if it would exceed the
// two-adapter ceiling.
func (s *Scheduler) openActive(ctx context.Context, t float64, w timeline.Window) error {
	needed := []int{w.Current}
	if w.InOverlap() {
		needed = append(needed, w.Next)
	}

	tl := s.session.Timeline()
	for i := 0; i < tl.Len(); i++ {
		if !s.session.IsOpen(i) || slices.Contains(needed, i) {
			continue
		}
		if s.session.OpenAdapters()+s.missing(needed) > maxAdapters {
			s.session.Release(i)
		}
	}

	for _, i := range needed {
		if _, err := s.session.Open(ctx, i); err != nil {
			return s.openError(ctx, err, t, i)
		}
	}
	return nil
}

func (s *Scheduler) missing(needed []int) int {
	n := 0
	for _, i := range needed {
		if !s.session.IsOpen(i) {
			n++
		}
	}
	return n
}

// prefetchNext opens the next clip ahead of its start so its first frame is
// not delayed by the open. It waits while the clip two positions back is
// still open. A failed prefetch is logged and retried when the clip becomes
// active.
func (s *Scheduler) prefetchNext(ctx context.Context, t float64, w timeline.Window) {
	tl := s.session.Timeline()
	next := w.Current + 1
	if w.InOverlap() || next >= tl.Len() || s.prefetch <= 0 {
		return
	}
	if s.session.IsOpen(next) || s.session.IsOpen(next-2) || s.session.OpenAdapters() >= maxAdapters {
		return
	}
	if t < tl.Entry(next).StartTime-s.prefetch {
		return
	}
	if _, err := s.session.Open(ctx, next); err != nil {
		s.logger.Warn("prefetch failed",
			slog.Int("entry", next),
			slog.String("clip", tl.Entry(next).Clip.Name),
			slog.String("error", err.Error()),
		)
	}
}

// compose returns the output frame at t: a pass-through frame outside
// overlaps, a blend of the seam's two clips inside one.
func (s *Scheduler) compose(ctx context.Context, t float64, w timeline.Window) (*image.RGBA, error) {
	tl := s.session.Timeline()
	cur, ok := s.session.Adapter(w.Current)
	if !ok {
		return nil, &Error{Kind: KindInternal, At: t, Clip: tl.Entry(w.Current).Clip.Name, Err: errors.New("adapter not open")}
	}

	if !w.InOverlap() {
		frame, err := cur.Frame(ctx, tl.LocalTime(w.Current, t))
		if err != nil {
			return nil, s.frameError(ctx, err, t, cur)
		}
		return frame, nil
	}

	next, ok := s.session.Adapter(w.Next)
	if !ok {
		return nil, &Error{Kind: KindInternal, At: t, Clip: tl.Entry(w.Next).Clip.Name, Err: errors.New("adapter not open")}
	}

	// Both decodes run concurrently; the blend waits for both.
	localA, localB := tl.LocalTime(w.Current, t), tl.LocalTime(w.Next, t)
	var frameA, frameB *image.RGBA
	var errA, errB error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		frameA, errA = cur.Frame(ctx, localA)
	}()
	go func() {
		defer wg.Done()
		frameB, errB = next.Frame(ctx, localB)
	}()
	wg.Wait()

	if errA != nil {
		return nil, s.frameError(ctx, errA, t, cur)
	}
	if errB != nil {
		return nil, s.frameError(ctx, errB, t, next)
	}

	if s.blendBuf == nil || s.blendBuf.Bounds() != frameA.Bounds() {
		s.blendBuf = image.NewRGBA(frameA.Bounds())
	}
	if err := transition.BlendInto(s.blendBuf, w.Kind, frameA, frameB, w.Progress); err != nil {
		return nil, &Error{Kind: KindInternal, At: t, Clip: cur.Name(), Err: fmt.Errorf("blend %s: %w", w.Kind, err)}
	}
	return s.blendBuf, nil
}

// pushAudio hands over every audio segment that starts at or before t.
func (s *Scheduler) pushAudio(ctx context.Context, t float64) error {
	enc := s.session.Encoder()
	for s.nextAudio < len(s.audio) && s.audio[s.nextAudio].OutputStart <= t+timeEpsilon {
		if err := enc.PushAudio(ctx, s.audio[s.nextAudio]); err != nil {
			return err
		}
		s.nextAudio++
	}
	return nil
}

func (s *Scheduler) openError(ctx context.Context, err error, t float64, i int) error {
	name := s.session.Timeline().Entry(i).Clip.Name
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, At: t, Clip: name, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	kind := KindOf(err)
	if kind == KindInternal && !errors.Is(err, errTooManyAdapters) {
		kind = KindSourceUnavailable
	}
	return &Error{Kind: kind, At: t, Clip: name, Err: err}
}

func (s *Scheduler) frameError(ctx context.Context, err error, t float64, a *decode.Adapter) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, At: t, Clip: a.Name(), Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	kind := KindOf(err)
	if kind == KindInternal {
		kind = KindDecode
	}
	s.logger.Error("frame decode failed",
		slog.String("clip", a.Name()),
		slog.Float64("t", t),
		slog.String("error", err.Error()),
	)
	return &Error{Kind: kind, At: t, Clip: a.Name(), Err: err}
}

func (s *Scheduler) encodeError(ctx context.Context, err error, t float64) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, At: t, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	return &Error{Kind: KindEncode, At: t, Err: err}
}
