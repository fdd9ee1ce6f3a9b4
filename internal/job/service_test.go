package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/delivery"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/render"
)

// fakeRenderer records requests and delegates to fn, or renders a tiny
// fixed reel after one progress update.
type fakeRenderer struct {
	mu       sync.Mutex
	requests []render.Request
	fn       func(ctx context.Context, req render.Request) (*delivery.Output, error)
}

func (r *fakeRenderer) Render(ctx context.Context, req render.Request) (*delivery.Output, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	if len(req.Clips) == 0 {
		return nil, &render.Error{Kind: render.KindEmptyPlaylist, At: -1}
	}
	req.Reporter.SetStage(progress.Compositing, 50, req.Clips[0].Name)
	return &delivery.Output{
		Data:        []byte("reel"),
		FileName:    "highlight_" + req.PlayerID + "_20260314T090507.mp4",
		ContentType: "video/mp4",
		Duration:    9.5,
		Frames:      285,
	}, nil
}

func (r *fakeRenderer) calls() []render.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]render.Request(nil), r.requests...)
}

type failingSaver struct{ err error }

func (s failingSaver) Save(context.Context, string, io.Reader) (string, error) {
	return "", s.err
}

type remoteSaver struct{}

func (remoteSaver) Save(_ context.Context, name string, _ io.Reader) (string, error) {
	return "https://reels.s3.eu-west-1.amazonaws.com/" + name, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, renderer Renderer, saver delivery.Saver, opts ...ServiceOption) (*RenderService, *clip.StaticResolver) {
	t.Helper()
	if saver == nil {
		local, err := delivery.NewLocalSaver(t.TempDir())
		require.NoError(t, err)
		saver = local
	}
	resolver := clip.NewStaticResolver()
	opts = append([]ServiceOption{WithProgressInterval(0)}, opts...)
	return NewRenderService(NewMemoryRepository(), resolver, renderer, saver, testLogger(), opts...), resolver
}

func inlineInput(names ...string) RenderInput {
	in := RenderInput{PlayerID: "p7"}
	for _, n := range names {
		in.Clips = append(in.Clips, clip.Descriptor{Name: n, SourceLocation: "/clips/" + n + ".mp4"})
	}
	return in
}

func isRunning(s *RenderService, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func TestNewRenderService_Defaults(t *testing.T) {
	svc := NewRenderService(NewMemoryRepository(), nil, &fakeRenderer{}, remoteSaver{}, nil)
	assert.Equal(t, DefaultMaxConcurrentRenders, svc.MaxConcurrentRenders())
	assert.NotNil(t, svc.logger)

	svc = NewRenderService(NewMemoryRepository(), nil, &fakeRenderer{}, remoteSaver{}, nil,
		WithMaxConcurrentRenders(4), WithMaxConcurrentRenders(0))
	assert.Equal(t, 4, svc.MaxConcurrentRenders())
}

func TestRenderService_CreateJob_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		input   RenderInput
		wantErr bool
	}{
		{"inline clips", inlineInput("a", "b"), false},
		{"playlist", RenderInput{PlayerID: "p7", PlaylistID: "finals"}, false},
		{"missing player", RenderInput{Clips: inlineInput("a").Clips}, true},
		{"clip without source", RenderInput{PlayerID: "p7", Clips: []clip.Descriptor{{Name: "a"}}}, true},
		{"negative order", RenderInput{PlayerID: "p7", PlaylistID: "finals", Order: []int{1, -1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j, err := svc.CreateJob(ctx, tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusInQueue, j.Status)

			saved, err := svc.GetJob(ctx, j.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.input.PlayerID, saved.PlayerID)
		})
	}
}

func TestRenderService_Process_InlineClips(t *testing.T) {
	dir := t.TempDir()
	saver, err := delivery.NewLocalSaver(dir)
	require.NoError(t, err)
	renderer := &fakeRenderer{}
	svc, _ := newTestService(t, renderer, saver)
	ctx := context.Background()

	out, err := svc.Process(ctx, inlineInput("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Equal(t, "highlight_p7_20260314T090507.mp4", out.FileName)
	assert.Equal(t, 4, out.Size)

	data, err := os.ReadFile(filepath.Join(dir, out.FileName))
	require.NoError(t, err)
	assert.Equal(t, "reel", string(data))

	calls := renderer.calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Clips, 3)
	for i, c := range calls[0].Clips {
		assert.Equal(t, i, c.Order)
	}
	assert.NotNil(t, calls[0].Reporter)

	j, err := svc.GetJob(ctx, out.JobID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, j.Status)
	assert.Equal(t, progress.Compositing, j.Stage)
	assert.Equal(t, 50, j.Progress)
	assert.InDelta(t, 9.5, j.Duration, 1e-9)
	assert.Equal(t, 285, j.Frames)
	assert.Equal(t, filepath.Join(dir, out.FileName), j.OutputLocation)
	assert.False(t, j.StartedAt.IsZero())
	assert.False(t, j.CompletedAt.IsZero())
}

func TestRenderService_Process_PlaylistWithOrder(t *testing.T) {
	renderer := &fakeRenderer{}
	svc, resolver := newTestService(t, renderer, nil)
	resolver.Put(clip.PlaylistRef{PlayerID: "p7", PlaylistID: "finals"}, []clip.Descriptor{
		{Name: "a", SourceLocation: "/a.mp4", Order: 0},
		{Name: "b", SourceLocation: "/b.mp4", Order: 1},
		{Name: "c", SourceLocation: "/c.mp4", Order: 2},
	})

	out, err := svc.Process(context.Background(), RenderInput{PlayerID: "p7", PlaylistID: "finals", Order: []int{2, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)

	calls := renderer.calls()
	require.Len(t, calls, 1)
	var names []string
	for _, c := range calls[0].Clips {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"c", "a", "b"}, names)
}

func TestRenderService_Process_Failures(t *testing.T) {
	tests := []struct {
		name     string
		input    RenderInput
		render   func(ctx context.Context, req render.Request) (*delivery.Output, error)
		saver    delivery.Saver
		wantKind string
		wantAt   float64
		wantErr  error
	}{
		{
			name:     "unknown playlist",
			input:    RenderInput{PlayerID: "p7", PlaylistID: "missing"},
			wantKind: "source_unavailable",
			wantAt:   -1,
			wantErr:  clip.ErrPlaylistNotFound,
		},
		{
			name:     "bad order",
			input:    RenderInput{PlayerID: "p7", Clips: inlineInput("a", "b").Clips, Order: []int{0, 0}},
			wantKind: "invalid_request",
			wantAt:   -1,
			wantErr:  clip.ErrInvalidOrder,
		},
		{
			name:     "empty selection",
			input:    RenderInput{PlayerID: "p7"},
			wantKind: "empty_playlist",
			wantAt:   -1,
		},
		{
			name:  "decode error",
			input: inlineInput("a", "b"),
			render: func(context.Context, render.Request) (*delivery.Output, error) {
				return nil, &render.Error{Kind: render.KindDecode, At: 4, Clip: "b", Err: errors.New("corrupt packet")}
			},
			wantKind: "decode_error",
			wantAt:   4,
		},
		{
			name:     "delivery error",
			input:    inlineInput("a"),
			saver:    failingSaver{err: errors.New("disk full")},
			wantKind: KindDelivery,
			wantAt:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t, &fakeRenderer{fn: tt.render}, tt.saver)

			out, err := svc.Process(context.Background(), tt.input)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			require.NotNil(t, out)
			assert.Equal(t, StatusFailed, out.Status)
			assert.Equal(t, tt.wantKind, out.ErrorKind)
			assert.InDelta(t, tt.wantAt, out.FailedAt, 1e-9)
			assert.NotEmpty(t, out.Error)
			assert.Empty(t, out.FileName)
		})
	}
}

func TestRenderService_CancelRunning(t *testing.T) {
	started := make(chan struct{})
	var sawFlag atomic.Bool
	renderer := &fakeRenderer{fn: func(ctx context.Context, req render.Request) (*delivery.Output, error) {
		close(started)
		<-ctx.Done()
		sawFlag.Store(req.Reporter.Cancelled())
		return nil, &render.Error{Kind: render.KindCancelled, At: 1.5, Err: render.ErrCancelled}
	}}
	svc, _ := newTestService(t, renderer, nil)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, inlineInput("a", "b"))
	require.NoError(t, err)

	type result struct {
		out *RenderOutput
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := svc.ProcessExistingJob(ctx, j.ID)
		done <- result{out, err}
	}()

	<-started
	snapshot, err := svc.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snapshot.Status)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, StatusCancelled, res.out.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("render did not stop after cancel")
	}
	assert.True(t, sawFlag.Load(), "reporter flag is set before the context is cancelled")

	saved, err := svc.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, saved.Status)
	assert.Empty(t, saved.OutputName)
	assert.False(t, isRunning(svc, j.ID))
}

func TestRenderService_CancelQueued(t *testing.T) {
	renderer := &fakeRenderer{}
	svc, _ := newTestService(t, renderer, nil)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, inlineInput("a"))
	require.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.ProcessExistingJob(ctx, j.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, renderer.calls())

	_, err = svc.Cancel(ctx, j.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Cancel(ctx, "render-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRenderService_CancelWhileWaitingForSlot(t *testing.T) {
	release := make(chan struct{})
	first := make(chan struct{})
	var once sync.Once
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, req render.Request) (*delivery.Output, error) {
		once.Do(func() { close(first) })
		<-release
		return &delivery.Output{Data: []byte("reel"), FileName: "highlight_" + req.PlayerID + "_x.mp4"}, nil
	}
	svc, _ := newTestService(t, renderer, nil, WithMaxConcurrentRenders(1))
	ctx := context.Background()

	busy, err := svc.CreateJob(ctx, inlineInput("a"))
	require.NoError(t, err)
	waiting, err := svc.CreateJob(ctx, inlineInput("b"))
	require.NoError(t, err)

	go func() { _, _ = svc.ProcessExistingJob(ctx, busy.ID) }()
	<-first

	done := make(chan *RenderOutput, 1)
	go func() {
		out, _ := svc.ProcessExistingJob(ctx, waiting.ID)
		done <- out
	}()
	require.Eventually(t, func() bool { return isRunning(svc, waiting.ID) }, 5*time.Second, time.Millisecond)

	_, err = svc.Cancel(ctx, waiting.ID)
	require.NoError(t, err)

	select {
	case out := <-done:
		assert.Equal(t, StatusCancelled, out.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("queued job did not observe cancel")
	}
	close(release)
	assert.Len(t, renderer.calls(), 1, "the cancelled job never reached the renderer")
}

func TestRenderService_ConcurrencyLimit(t *testing.T) {
	var active, peak atomic.Int32
	renderer := &fakeRenderer{}
	renderer.fn = func(ctx context.Context, req render.Request) (*delivery.Output, error) {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		return &delivery.Output{Data: []byte("reel"), FileName: "highlight_" + req.PlayerID + "_x.mp4"}, nil
	}
	svc, _ := newTestService(t, renderer, remoteSaver{}, WithMaxConcurrentRenders(2))
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := svc.Process(ctx, inlineInput("a"))
			assert.NoError(t, err)
			assert.Equal(t, StatusCompleted, out.Status)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, renderer.calls(), 6)
}

func TestRenderService_Subscribe(t *testing.T) {
	svc, _ := newTestService(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, inlineInput("a", "b"))
	require.NoError(t, err)

	events, unsubscribe, err := svc.Subscribe(ctx, j.ID)
	require.NoError(t, err)
	defer unsubscribe()

	_, err = svc.ProcessExistingJob(ctx, j.ID)
	require.NoError(t, err)

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	require.GreaterOrEqual(t, len(got), 3)
	assert.Equal(t, StatusInQueue, got[0].Status)
	assert.Equal(t, StatusRunning, got[1].Status)
	last := got[len(got)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.True(t, last.IsTerminal())
	assert.Nil(t, last.FailedAt)

	var sawProgress bool
	for _, ev := range got {
		if ev.Stage == progress.Compositing && ev.Percent == 50 {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress)
}

func TestRenderService_Subscribe_FinishedJob(t *testing.T) {
	svc, _ := newTestService(t, &fakeRenderer{fn: func(context.Context, render.Request) (*delivery.Output, error) {
		return nil, &render.Error{Kind: render.KindSourceUnavailable, At: 5, Clip: "b"}
	}}, nil)
	ctx := context.Background()

	out, err := svc.Process(ctx, inlineInput("a", "b"))
	require.Error(t, err)

	events, _, err := svc.Subscribe(ctx, out.JobID)
	require.NoError(t, err)

	ev, ok := <-events
	require.True(t, ok)
	assert.Equal(t, StatusFailed, ev.Status)
	assert.Equal(t, "source_unavailable", ev.ErrorKind)
	require.NotNil(t, ev.FailedAt)
	assert.InDelta(t, 5, *ev.FailedAt, 1e-9)

	_, ok = <-events
	assert.False(t, ok, "channel is closed after the final event")

	_, _, err = svc.Subscribe(ctx, "render-missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRenderService_Unsubscribe(t *testing.T) {
	svc, _ := newTestService(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	j, err := svc.CreateJob(ctx, inlineInput("a"))
	require.NoError(t, err)

	events, unsubscribe, err := svc.Subscribe(ctx, j.ID)
	require.NoError(t, err)
	<-events
	unsubscribe()
	unsubscribe()

	_, ok := <-events
	assert.False(t, ok)

	_, err = svc.ProcessExistingJob(ctx, j.ID)
	require.NoError(t, err)
}

func TestRenderService_OpenOutput(t *testing.T) {
	svc, _ := newTestService(t, &fakeRenderer{}, nil)
	ctx := context.Background()

	queued, err := svc.CreateJob(ctx, inlineInput("a"))
	require.NoError(t, err)
	_, _, err = svc.OpenOutput(ctx, queued.ID)
	assert.ErrorIs(t, err, ErrOutputUnavailable)

	out, err := svc.ProcessExistingJob(ctx, queued.ID)
	require.NoError(t, err)

	rc, j, err := svc.OpenOutput(ctx, out.JobID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "reel", string(data))
	assert.Equal(t, out.FileName, j.OutputName)

	remote, _ := newTestService(t, &fakeRenderer{}, remoteSaver{})
	out, err = remote.Process(ctx, inlineInput("a"))
	require.NoError(t, err)
	_, j, err = remote.OpenOutput(ctx, out.JobID)
	assert.ErrorIs(t, err, ErrOutputRemote)
	assert.Contains(t, j.OutputLocation, "https://")
}
