package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/delivery"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/render"
	"github.com/maauso/highlight-reel/internal/timeline"
)

// Service errors.
var (
	// ErrInvalidInput wraps validation failures of a RenderInput.
	ErrInvalidInput = errors.New("invalid render input")
	// ErrOutputUnavailable is returned when a job has no delivered output.
	ErrOutputUnavailable = errors.New("output not available")
	// ErrOutputRemote is returned when the output lives behind a URL the
	// service cannot stream, e.g. an S3 object.
	ErrOutputRemote = errors.New("output stored remotely")
)

// KindDelivery marks jobs whose reel rendered but could not be saved.
const KindDelivery = "delivery_error"

// DefaultMaxConcurrentRenders bounds renders running at the same time.
const DefaultMaxConcurrentRenders = 2

const subscriberBuffer = 16

// RenderInput contains the parameters of one render job. Either PlaylistID
// or Clips selects the clips; an empty selection fails as an empty playlist.
type RenderInput struct {
	PlayerID   string                 `validate:"required,max=128"`
	PlaylistID string                 `validate:"max=128"`
	Clips      []clip.Descriptor      `validate:"dive"`
	Order      []int                  `validate:"dive,min=0"`
	Seams      []timeline.SeamSetting `validate:"-"`
}

// RenderOutput is the outcome of a processed job.
type RenderOutput struct {
	JobID     string
	Status    Status
	FileName  string
	Location  string
	Size      int
	ErrorKind string
	FailedAt  float64
	Error     string
}

// Renderer composites clips into a reel.
type Renderer interface {
	Render(ctx context.Context, req render.Request) (*delivery.Output, error)
}

// outputOpener is implemented by savers that can read back what they saved.
type outputOpener interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Event is a snapshot of a job pushed to subscribers on every change.
type Event struct {
	JobID     string         `json:"job_id"`
	Status    Status         `json:"status"`
	Stage     progress.Stage `json:"stage"`
	Percent   int            `json:"percent"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorKind string         `json:"error_kind,omitempty"`
	FailedAt  *float64       `json:"failed_at,omitempty"`
}

// IsTerminal reports whether no further events follow.
func (e Event) IsTerminal() bool {
	return isTerminal(e.Status)
}

func eventOf(j *Job) Event {
	snap := j.Clone()
	ev := Event{
		JobID:     snap.ID,
		Status:    snap.Status,
		Stage:     snap.Stage,
		Percent:   snap.Progress,
		Message:   snap.Message,
		Error:     snap.Error,
		ErrorKind: snap.ErrorKind,
	}
	if snap.FailedAt >= 0 {
		at := snap.FailedAt
		ev.FailedAt = &at
	}
	return ev
}

type activeRender struct {
	cancel   context.CancelFunc
	reporter *progress.Reporter
}

// RenderService runs render jobs: it resolves the clips, renders them through
// the Renderer and hands the result to the Saver. Concurrent renders are
// bounded by a semaphore; each job can be cancelled and observed.
type RenderService struct {
	repo     Repository
	resolver clip.Resolver
	renderer Renderer
	saver    delivery.Saver
	validate *validator.Validate
	logger   *slog.Logger

	progressInterval time.Duration
	slots            chan struct{}

	mu      sync.Mutex
	running map[string]*activeRender

	subMu   sync.Mutex
	subs    map[string]map[int]chan Event
	nextSub int
}

// ServiceOption configures a RenderService.
type ServiceOption func(*RenderService)

// WithMaxConcurrentRenders bounds the renders running at the same time.
func WithMaxConcurrentRenders(n int) ServiceOption {
	return func(s *RenderService) {
		if n > 0 {
			s.slots = make(chan struct{}, n)
		}
	}
}

// WithProgressInterval sets how often running jobs record progress.
func WithProgressInterval(d time.Duration) ServiceOption {
	return func(s *RenderService) {
		if d >= 0 {
			s.progressInterval = d
		}
	}
}

// NewRenderService creates a RenderService. A nil resolver makes playlist
// jobs fail as unresolvable; inline clips still render.
func NewRenderService(repo Repository, resolver clip.Resolver, renderer Renderer, saver delivery.Saver, logger *slog.Logger, opts ...ServiceOption) *RenderService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RenderService{
		repo:             repo,
		resolver:         resolver,
		renderer:         renderer,
		saver:            saver,
		validate:         validator.New(),
		logger:           logger,
		progressInterval: progress.DefaultInterval,
		slots:            make(chan struct{}, DefaultMaxConcurrentRenders),
		running:          make(map[string]*activeRender),
		subs:             make(map[string]map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxConcurrentRenders returns the render slot count.
func (s *RenderService) MaxConcurrentRenders() int {
	return cap(s.slots)
}

// CreateJob validates input and persists a new IN_QUEUE job.
func (s *RenderService) CreateJob(ctx context.Context, input RenderInput) (*Job, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	j := New()
	j.PlayerID = input.PlayerID
	j.PlaylistID = input.PlaylistID
	j.Clips = input.Clips
	j.Order = input.Order
	j.Seams = input.Seams

	s.logger.Info("creating render job",
		slog.String("job_id", j.ID),
		slog.String("player_id", j.PlayerID),
		slog.String("playlist_id", j.PlaylistID),
		slog.Int("inline_clips", len(j.Clips)),
	)

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return j.Clone(), nil
}

// GetJob retrieves a job by ID.
func (s *RenderService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns the jobs matching filter, newest first.
func (s *RenderService) ListJobs(ctx context.Context, filter Filter) ([]*Job, error) {
	return s.repo.List(ctx, filter)
}

// Process creates a job for input and renders it synchronously.
func (s *RenderService) Process(ctx context.Context, input RenderInput) (*RenderOutput, error) {
	j, err := s.CreateJob(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessExistingJob(ctx, j.ID)
}

// ProcessExistingJob renders a queued job. It blocks until the job reaches a
// terminal state. A failed job returns both its output record and the
// failure; a cancelled job returns its output record and no error.
func (s *RenderService) ProcessExistingJob(ctx context.Context, jobID string) (*RenderOutput, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j, reporter, err := s.register(ctx, jobID, cancel)
	if err != nil {
		return nil, err
	}
	defer s.unregister(jobID)

	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		return s.finishCancelled(ctx, j), nil
	}
	if ctx.Err() != nil || reporter.Cancelled() {
		return s.finishCancelled(ctx, j), nil
	}

	if err := j.Start(); err != nil {
		return nil, err
	}
	s.store(ctx, j)
	s.logger.Info("render started", slog.String("job_id", j.ID))

	descs, err := s.clips(ctx, j)
	if err != nil {
		return s.finishFailed(ctx, j, render.KindOf(err).String(), -1, err)
	}

	out, err := s.renderer.Render(ctx, render.Request{
		PlayerID: j.PlayerID,
		Clips:    descs,
		Seams:    j.Seams,
		Reporter: reporter,
	})
	if err != nil {
		if render.KindOf(err) == render.KindCancelled {
			return s.finishCancelled(ctx, j), nil
		}
		return s.finishFailed(ctx, j, render.KindOf(err).String(), render.TimestampOf(err), err)
	}

	location, err := s.saver.Save(ctx, out.FileName, out.Reader())
	if err != nil {
		if ctx.Err() != nil {
			return s.finishCancelled(ctx, j), nil
		}
		return s.finishFailed(ctx, j, KindDelivery, -1, fmt.Errorf("save %s: %w", out.FileName, err))
	}

	j.SetOutput(out.FileName, location, out.Size(), out.Duration, out.Frames)
	if err := j.Complete(); err != nil {
		return nil, err
	}
	s.store(ctx, j)

	s.logger.Info("render job completed",
		slog.String("job_id", j.ID),
		slog.String("location", location),
		slog.Int("bytes", out.Size()),
	)
	return outputOf(j), nil
}

// Cancel requests cancellation of a job. A running job stops at its next
// frame and is marked CANCELLED by its own goroutine; a queued job is
// cancelled immediately. Finished jobs return ErrInvalidTransition.
func (s *RenderService) Cancel(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	if active, ok := s.running[id]; ok {
		active.reporter.Cancel()
		active.cancel()
		s.mu.Unlock()
		s.logger.Info("render cancellation requested", slog.String("job_id", id))
		return s.repo.FindByID(ctx, id)
	}
	defer s.mu.Unlock()

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := j.Cancel(); err != nil {
		return nil, fmt.Errorf("%w: job %s is %s", err, id, j.GetStatus())
	}
	s.store(ctx, j)
	s.logger.Info("queued render cancelled", slog.String("job_id", id))
	return j.Clone(), nil
}

// Subscribe streams events of job id until it reaches a terminal state, at
// which point the channel is closed. The first event is the current state.
// Slow subscribers miss intermediate events but always get the final one.
// The returned func unsubscribes early.
func (s *RenderService) Subscribe(ctx context.Context, id string) (<-chan Event, func(), error) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan Event, subscriberBuffer)
	ch <- eventOf(j)
	if j.IsTerminal() {
		close(ch)
		return ch, func() {}, nil
	}

	key := s.nextSub
	s.nextSub++
	if s.subs[id] == nil {
		s.subs[id] = make(map[int]chan Event)
	}
	s.subs[id][key] = ch

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id][key]; ok {
			delete(s.subs[id], key)
			if len(s.subs[id]) == 0 {
				delete(s.subs, id)
			}
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// OpenOutput opens the delivered reel of a completed job. It returns
// ErrOutputRemote when the saver cannot read back its files.
func (s *RenderService) OpenOutput(ctx context.Context, id string) (io.ReadCloser, *Job, error) {
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if j.Status != StatusCompleted || j.OutputName == "" {
		return nil, j, ErrOutputUnavailable
	}
	opener, ok := s.saver.(outputOpener)
	if !ok {
		return nil, j, ErrOutputRemote
	}
	rc, err := opener.Open(ctx, j.OutputName)
	if err != nil {
		if errors.Is(err, delivery.ErrNotFound) {
			return nil, j, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		}
		return nil, j, err
	}
	return rc, j, nil
}

func (s *RenderService) register(ctx context.Context, jobID string, cancel context.CancelFunc) (*Job, *progress.Reporter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.running[jobID]; busy {
		return nil, nil, fmt.Errorf("%w: job %s is already being processed", ErrInvalidTransition, jobID)
	}
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if status := j.GetStatus(); status != StatusInQueue {
		return nil, nil, fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, status)
	}

	reporter := progress.NewReporter(func(p progress.Progress) {
		j.UpdateProgress(p)
		s.store(ctx, j)
	}, progress.WithInterval(s.progressInterval))

	s.running[jobID] = &activeRender{cancel: cancel, reporter: reporter}
	return j, reporter, nil
}

func (s *RenderService) unregister(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

// clips resolves the job's clip list and applies the operator order.
func (s *RenderService) clips(ctx context.Context, j *Job) ([]clip.Descriptor, error) {
	descs := j.Clips
	if j.PlaylistID != "" {
		if s.resolver == nil {
			return nil, fmt.Errorf("%w: no clip catalog configured", clip.ErrPlaylistNotFound)
		}
		resolved, err := s.resolver.Resolve(ctx, clip.PlaylistRef{PlayerID: j.PlayerID, PlaylistID: j.PlaylistID})
		if err != nil {
			return nil, err
		}
		descs = resolved
	}
	if len(descs) == 0 {
		return nil, nil
	}
	return clip.Reorder(descs, j.Order)
}

func (s *RenderService) finishFailed(ctx context.Context, j *Job, kind string, at float64, err error) (*RenderOutput, error) {
	if ferr := j.Fail(kind, at, err.Error()); ferr != nil {
		return nil, ferr
	}
	s.store(ctx, j)
	s.logger.Error("render job failed",
		slog.String("job_id", j.ID),
		slog.String("kind", kind),
		slog.Float64("failed_at", at),
		slog.String("error", err.Error()),
	)
	return outputOf(j), err
}

func (s *RenderService) finishCancelled(ctx context.Context, j *Job) *RenderOutput {
	if err := j.Cancel(); err != nil {
		s.logger.Warn("failed to mark job cancelled",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	s.store(ctx, j)
	s.logger.Info("render job cancelled", slog.String("job_id", j.ID))
	return outputOf(j)
}

// store persists j and notifies subscribers. Cancellation of ctx must not
// lose the final state, so the save ignores it.
func (s *RenderService) store(ctx context.Context, j *Job) {
	if err := s.repo.Save(context.WithoutCancel(ctx), j); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	s.publish(eventOf(j))
}

func (s *RenderService) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	subs := s.subs[ev.JobID]
	for _, ch := range subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		if !ev.IsTerminal() {
			continue
		}
		// Make room for the final event.
		select {
		case <-ch:
		default:
		}
		ch <- ev
	}
	if ev.IsTerminal() {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subs, ev.JobID)
	}
}

func outputOf(j *Job) *RenderOutput {
	snap := j.Clone()
	return &RenderOutput{
		JobID:     snap.ID,
		Status:    snap.Status,
		FileName:  snap.OutputName,
		Location:  snap.OutputLocation,
		Size:      snap.OutputSize,
		ErrorKind: snap.ErrorKind,
		FailedAt:  snap.FailedAt,
		Error:     snap.Error,
	}
}
