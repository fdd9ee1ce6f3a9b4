// Package render composites an ordered list of clips into one highlight reel.
// A Renderer probes the clips, lays them out on a timeline and runs a
// Scheduler that decodes, blends and encodes frame by frame.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/delivery"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/metrics"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/timeline"
)

// Defaults for Renderer options.
const (
	DefaultFPS            = 30.0
	DefaultPrefetchMargin = 500 * time.Millisecond
)

// Request describes one render.
type Request struct {
	// PlayerID names the output file.
	PlayerID string
	// Clips are rendered in slice order.
	Clips []clip.Descriptor
	// Seams overrides the default transition of individual seams.
	Seams []timeline.SeamSetting
	// Observer receives throttled progress updates. Ignored when Reporter is set.
	Observer progress.Observer
	// Reporter lets the caller share the reporter, e.g. to cancel through it.
	Reporter *progress.Reporter
}

// Renderer turns Requests into finished outputs. A Renderer holds no
// per-render state and may serve concurrent renders; every Render call gets
// its own Session.
type Renderer struct {
	prober   decode.Prober
	opener   decode.Opener
	encoders encode.Factory
	logger   *slog.Logger
	now      func() time.Time

	fps              float64
	width            int
	height           int
	prefetch         time.Duration
	audioMode        timeline.AudioMode
	progressInterval time.Duration
	quality          float64
	queueSize        int
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithFPS sets the output frame rate.
func WithFPS(fps float64) Option {
	return func(r *Renderer) {
		if fps > 0 {
			r.fps = fps
		}
	}
}

// WithOutputSize fixes the output resolution. Zero keeps the first clip's size.
func WithOutputSize(width, height int) Option {
	return func(r *Renderer) {
		if width > 0 && height > 0 {
			r.width, r.height = width, height
		}
	}
}

// WithPrefetchMargin sets how early the next clip is opened.
func WithPrefetchMargin(d time.Duration) Option {
	return func(r *Renderer) {
		if d >= 0 {
			r.prefetch = d
		}
	}
}

// WithAudioMode selects how audio behaves inside overlaps.
func WithAudioMode(mode timeline.AudioMode) Option {
	return func(r *Renderer) {
		r.audioMode = mode
	}
}

// WithProgressInterval sets the minimum time between progress updates.
func WithProgressInterval(d time.Duration) Option {
	return func(r *Renderer) {
		if d >= 0 {
			r.progressInterval = d
		}
	}
}

// WithQuality sets the encoder quality in [0,1], 0 best.
func WithQuality(q float64) Option {
	return func(r *Renderer) {
		if q >= 0 && q <= 1 {
			r.quality = q
		}
	}
}

// WithQueueSize bounds the frames buffered ahead of the encoder.
func WithQueueSize(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Renderer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now for output names.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Renderer.
func New(prober decode.Prober, opener decode.Opener, encoders encode.Factory, opts ...Option) *Renderer {
	r := &Renderer{
		prober:           prober,
		opener:           opener,
		encoders:         encoders,
		logger:           slog.Default(),
		now:              time.Now,
		fps:              DefaultFPS,
		prefetch:         DefaultPrefetchMargin,
		audioMode:        timeline.AudioSwitchMidpoint,
		progressInterval: progress.DefaultInterval,
		quality:          0.5,
		queueSize:        encode.DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render produces the highlight reel for req. Failures are returned as *Error;
// a cancelled render returns an *Error of KindCancelled wrapping ErrCancelled
// and no output.
func (r *Renderer) Render(ctx context.Context, req Request) (out *delivery.Output, err error) {
	if len(req.Clips) == 0 {
		return nil, &Error{Kind: KindEmptyPlaylist, At: -1, Err: timeline.ErrEmptyPlaylist}
	}

	started := time.Now()
	metrics.RendersInFlight.Inc()
	defer func() {
		metrics.RendersInFlight.Dec()
		result := "completed"
		if err != nil {
			result = KindOf(err).String()
		}
		metrics.RendersTotal.WithLabelValues(result).Inc()
		metrics.RenderDuration.Observe(time.Since(started).Seconds())
	}()

	reporter := req.Reporter
	if reporter == nil {
		reporter = progress.NewReporter(req.Observer, progress.WithInterval(r.progressInterval))
	}
	logger := r.logger.With(slog.String("player_id", req.PlayerID), slog.Int("clips", len(req.Clips)))

	seams, err := timeline.Seams(len(req.Clips), req.Seams, timeline.DefaultSpec())
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, At: -1, Err: err}
	}

	clips, infos, err := r.load(ctx, req.Clips, seams, reporter)
	if err != nil {
		return nil, err
	}

	tl, err := timeline.Build(clips, seams)
	if err != nil {
		return nil, wrap(err, -1, "")
	}
	width, height := r.outputSize(infos[0])
	logger.Info("timeline built",
		slog.Float64("duration", tl.TotalDuration()),
		slog.Int("width", width),
		slog.Int("height", height),
		slog.Float64("fps", r.fps),
		slog.String("audio_mode", r.audioMode.String()),
	)

	enc, err := r.encoders.NewEncoder(ctx, encode.Options{
		Width:     width,
		Height:    height,
		FPS:       r.fps,
		Quality:   r.quality,
		QueueSize: r.queueSize,
	})
	if err != nil {
		return nil, r.encodeFailure(ctx, err, 0)
	}

	session := NewSession(tl, r.opener, enc, width, height, logger)
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Warn("failed to close session", slog.String("error", cerr.Error()))
		}
	}()

	sched, err := NewScheduler(session, SchedulerConfig{
		FPS:            r.fps,
		PrefetchMargin: r.prefetch.Seconds(),
		Audio:          audioSegments(tl, infos, r.audioMode),
		Reporter:       reporter,
		Logger:         logger,
	})
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, At: -1, Err: err}
	}

	stats, err := sched.Run(ctx)
	if err != nil {
		logger.Warn("render stopped",
			slog.String("kind", KindOf(err).String()),
			slog.Float64("at", TimestampOf(err)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	total := tl.TotalDuration()
	if cerr := checkCancelled(ctx, reporter); cerr != nil {
		return nil, &Error{Kind: KindCancelled, At: total, Err: cerr}
	}

	reporter.SetStage(progress.Encoding, 0, "encoding")
	data, err := enc.Finalize(ctx)
	if err != nil {
		return nil, r.encodeFailure(ctx, err, total)
	}
	reporter.Done("encoded")

	reporter.SetStage(progress.Finalizing, 0, "packaging output")
	out = &delivery.Output{
		Data:        data,
		FileName:    delivery.FileName(req.PlayerID, r.now(), encode.Extension),
		ContentType: encode.ContentType,
		Duration:    total,
		Frames:      stats.Frames,
	}
	metrics.OutputBytes.Observe(float64(out.Size()))
	reporter.Done("ready")

	logger.Info("render completed",
		slog.String("file_name", out.FileName),
		slog.Int("frames", stats.Frames),
		slog.Int("blended", stats.Blended),
		slog.Int("bytes", out.Size()),
		slog.Duration("elapsed", time.Since(started)),
	)
	return out, nil
}

// load probes every clip in order. A clip that cannot be probed fails the
// render at the position where it would have started.
func (r *Renderer) load(ctx context.Context, descs []clip.Descriptor, seams []timeline.TransitionSpec, reporter *progress.Reporter) ([]timeline.Clip, []decode.Info, error) {
	reporter.SetStage(progress.Loading, 0, "loading clips")

	clips := make([]timeline.Clip, 0, len(descs))
	infos := make([]decode.Info, 0, len(descs))
	for i, d := range descs {
		at := positionOf(clips, seams)
		if err := checkCancelled(ctx, reporter); err != nil {
			return nil, nil, &Error{Kind: KindCancelled, At: at, Clip: d.Name, Err: err}
		}

		info, err := r.prober.Probe(ctx, d.SourceLocation)
		if err != nil {
			if cerr := checkCancelled(ctx, reporter); cerr != nil {
				return nil, nil, &Error{Kind: KindCancelled, At: at, Clip: d.Name, Err: cerr}
			}
			return nil, nil, &Error{Kind: KindSourceUnavailable, At: at, Clip: d.Name, Err: err}
		}
		if info.Duration <= 0 || info.Width <= 0 || info.Height <= 0 {
			return nil, nil, &Error{Kind: KindSourceUnavailable, At: at, Clip: d.Name,
				Err: fmt.Errorf("%w: %s has no playable video", decode.ErrSourceUnavailable, d.SourceLocation)}
		}

		clips = append(clips, timeline.Clip{Descriptor: d, Duration: info.Duration})
		infos = append(infos, info)
		reporter.Update(float64(i+1), float64(len(descs)), d.Name)
	}
	return clips, infos, nil
}

// positionOf is where the next clip would start given the clips loaded so far.
func positionOf(loaded []timeline.Clip, seams []timeline.TransitionSpec) float64 {
	if len(loaded) == 0 {
		return 0
	}
	tl, err := timeline.Build(loaded, seams[:len(loaded)-1])
	if err != nil {
		return 0
	}
	return tl.TotalDuration()
}

// outputSize resolves the output resolution. Without an explicit size the
// first clip's size is used. Odd dimensions are rounded down for the encoder.
func (r *Renderer) outputSize(first decode.Info) (int, int) {
	w, h := r.width, r.height
	if w <= 0 || h <= 0 {
		w, h = first.Width, first.Height
	}
	w, h = w&^1, h&^1
	return max(w, 2), max(h, 2)
}

func (r *Renderer) encodeFailure(ctx context.Context, err error, at float64) error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCancelled, At: at, Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	return &Error{Kind: KindEncode, At: at, Err: err}
}

func checkCancelled(ctx context.Context, reporter *progress.Reporter) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if reporter.Cancelled() {
		return ErrCancelled
	}
	return nil
}

// audioSegments attaches source locations to the timeline's audio plan.
func audioSegments(tl *timeline.Timeline, infos []decode.Info, mode timeline.AudioMode) []encode.Segment {
	plan := tl.AudioPlan(mode)
	segs := make([]encode.Segment, 0, len(plan))
	for _, p := range plan {
		e := tl.Entry(p.Entry)
		segs = append(segs, encode.Segment{
			Source:      e.Clip.SourceLocation,
			HasAudio:    infos[p.Entry].HasAudio,
			OutputStart: p.OutputStart,
			SourceStart: p.SourceStart,
			Duration:    p.Duration,
			CrossfadeIn: p.CrossfadeIn,
		})
	}
	return segs
}
