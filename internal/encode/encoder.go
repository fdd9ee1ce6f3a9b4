package encode

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	vidio "github.com/AlexEidt/Vidio"
)

// Compile-time checks.
var (
	_ Encoder = (*FFmpegEncoder)(nil)
	_ Factory = (*FFmpegFactory)(nil)
)

// frameSink receives packed RGBA frames in presentation order.
type frameSink interface {
	Write(frame []byte) error
	Close()
}

// vidioSink streams frames into a video-only file through Vidio.
type vidioSink struct {
	w *vidio.VideoWriter
}

func newVidioSink(path string, opts Options) (frameSink, error) {
	vopts := &vidio.Options{
		FPS:     opts.FPS,
		Quality: opts.Quality,
		Bitrate: opts.Bitrate,
		Codec:   "libx264",
	}
	w, err := vidio.NewVideoWriter(path, opts.Width, opts.Height, vopts)
	if err != nil {
		return nil, err
	}
	return &vidioSink{w: w}, nil
}

func (s *vidioSink) Write(frame []byte) error {
	return s.w.Write(frame)
}

func (s *vidioSink) Close() {
	s.w.Close()
}

// muxFunc combines the video-only file with the audio segments into outputPath.
type muxFunc func(ctx context.Context, videoPath, outputPath string, segs []Segment) error

type encoderState int

const (
	stateOpen encoderState = iota
	stateFinalized
	stateAborted
)

// FFmpegEncoder writes frames to a temporary video-only file on a background
// goroutine and muxes the recorded audio segments in at Finalize.
type FFmpegEncoder struct {
	opts   Options
	dir    string
	sink   frameSink
	mux    muxFunc
	logger *slog.Logger

	queue  chan []byte
	done   chan struct{}
	failed chan struct{}

	errMu    sync.Mutex
	writeErr error

	state    encoderState
	frames   int
	lastT    float64
	segments []Segment
}

func newFFmpegEncoder(opts Options, dir string, sink frameSink, mux muxFunc, logger *slog.Logger) *FFmpegEncoder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &FFmpegEncoder{
		opts:   opts,
		dir:    dir,
		sink:   sink,
		mux:    mux,
		logger: logger,
		queue:  make(chan []byte, opts.QueueSize),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
		lastT:  -1,
	}
	go e.writeLoop()
	return e
}

// writeLoop drains the queue into the sink. After the first write error it
// keeps draining so producers never block on a dead writer.
func (e *FFmpegEncoder) writeLoop() {
	defer close(e.done)
	for frame := range e.queue {
		if e.err() != nil {
			continue
		}
		if err := e.sink.Write(frame); err != nil {
			e.errMu.Lock()
			e.writeErr = err
			e.errMu.Unlock()
			close(e.failed)
		}
	}
}

func (e *FFmpegEncoder) err() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.writeErr
}

func (e *FFmpegEncoder) checkOpen() error {
	switch e.state {
	case stateFinalized:
		return ErrFinalized
	case stateAborted:
		return ErrAborted
	}
	return nil
}

// PushFrame implements Encoder.
func (e *FFmpegEncoder) PushFrame(ctx context.Context, frame *image.RGBA, t float64) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if frame == nil {
		return fmt.Errorf("%w: nil frame at %.3fs", ErrEncode, t)
	}
	if t <= e.lastT {
		return fmt.Errorf("%w: %w: %.3fs after %.3fs", ErrEncode, ErrOutOfOrder, t, e.lastT)
	}
	if b := frame.Bounds(); b.Dx() != e.opts.Width || b.Dy() != e.opts.Height {
		return fmt.Errorf("%w: %w: got %dx%d, want %dx%d", ErrEncode, ErrFrameSize, b.Dx(), b.Dy(), e.opts.Width, e.opts.Height)
	}
	if err := e.err(); err != nil {
		return fmt.Errorf("%w: write frame: %w", ErrEncode, err)
	}

	// The scheduler reuses frame buffers, so the queue owns a copy.
	buf := append([]byte(nil), packed(frame)...)
	select {
	case e.queue <- buf:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.failed:
		return fmt.Errorf("%w: write frame: %w", ErrEncode, e.err())
	}
	e.lastT = t
	e.frames++
	return nil
}

// PushAudio implements Encoder.
func (e *FFmpegEncoder) PushAudio(ctx context.Context, seg Segment) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := len(e.segments); n > 0 && seg.OutputStart < e.segments[n-1].OutputStart {
		return fmt.Errorf("%w: %w: audio at %.3fs after %.3fs", ErrEncode, ErrOutOfOrder, seg.OutputStart, e.segments[n-1].OutputStart)
	}
	e.segments = append(e.segments, seg)
	return nil
}

// Frames returns how many frames were accepted.
func (e *FFmpegEncoder) Frames() int {
	return e.frames
}

// Finalize implements Encoder.
func (e *FFmpegEncoder) Finalize(ctx context.Context) ([]byte, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	e.state = stateFinalized
	defer e.cleanup()

	close(e.queue)
	<-e.done
	e.sink.Close()

	if err := e.err(); err != nil {
		return nil, fmt.Errorf("%w: write frame: %w", ErrEncode, err)
	}
	if e.frames == 0 {
		return nil, fmt.Errorf("%w: %w", ErrEncode, ErrNoFrames)
	}

	videoPath := filepath.Join(e.dir, "video."+Extension)
	outputPath := filepath.Join(e.dir, "output."+Extension)
	if err := e.mux(ctx, videoPath, outputPath, e.segments); err != nil {
		return nil, fmt.Errorf("%w: mux: %w", ErrEncode, err)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read output: %w", ErrEncode, err)
	}

	e.logger.Debug("encoder finalized",
		slog.Int("frames", e.frames),
		slog.Int("audio_segments", len(e.segments)),
		slog.Int("bytes", len(data)),
	)
	return data, nil
}

// Abort implements Encoder.
func (e *FFmpegEncoder) Abort() error {
	if e.state != stateOpen {
		return nil
	}
	e.state = stateAborted
	close(e.queue)
	<-e.done
	e.sink.Close()
	e.cleanup()
	e.logger.Debug("encoder aborted", slog.Int("frames", e.frames))
	return nil
}

func (e *FFmpegEncoder) cleanup() {
	if e.dir == "" {
		return
	}
	if err := os.RemoveAll(e.dir); err != nil {
		e.logger.Warn("failed to remove encoder temp dir",
			slog.String("dir", e.dir),
			slog.String("error", err.Error()),
		)
	}
}

// FFmpegFactory creates FFmpegEncoders that work inside a private directory
// under tempDir.
type FFmpegFactory struct {
	ffmpegPath string
	tempDir    string
	logger     *slog.Logger
}

// FactoryOption configures an FFmpegFactory.
type FactoryOption func(*FFmpegFactory)

// WithFFmpegPath sets the ffmpeg binary used for muxing.
func WithFFmpegPath(path string) FactoryOption {
	return func(f *FFmpegFactory) {
		if path != "" {
			f.ffmpegPath = path
		}
	}
}

// WithTempDir sets the parent directory for intermediate files.
func WithTempDir(dir string) FactoryOption {
	return func(f *FFmpegFactory) {
		f.tempDir = dir
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *FFmpegFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFFmpegFactory creates an FFmpegFactory. Vidio locates ffmpeg on PATH for
// the frame stream; the configured path is used for the final mux.
func NewFFmpegFactory(opts ...FactoryOption) *FFmpegFactory {
	f := &FFmpegFactory{
		ffmpegPath: "ffmpeg",
		tempDir:    os.TempDir(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewEncoder implements Factory.
func (f *FFmpegFactory) NewEncoder(ctx context.Context, opts Options) (Encoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, fmt.Errorf("%w: invalid output %dx%d at %v fps", ErrEncode, opts.Width, opts.Height, opts.FPS)
	}
	// libx264 with yuv420p needs even dimensions.
	if opts.Width%2 != 0 || opts.Height%2 != 0 {
		return nil, fmt.Errorf("%w: %w: %dx%d must be even", ErrEncode, ErrFrameSize, opts.Width, opts.Height)
	}

	if err := os.MkdirAll(f.tempDir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", ErrEncode, err)
	}
	dir, err := os.MkdirTemp(f.tempDir, "render-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create work dir: %w", ErrEncode, err)
	}

	sink, err := newVidioSink(filepath.Join(dir, "video."+Extension), opts)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("%w: open writer: %w", ErrEncode, err)
	}

	mux := func(ctx context.Context, videoPath, outputPath string, segs []Segment) error {
		return runFFmpeg(ctx, f.ffmpegPath, buildMuxArgs(videoPath, outputPath, segs))
	}
	return newFFmpegEncoder(opts, dir, sink, mux, f.logger), nil
}

// IsEncodeError reports whether err came from an encoder.
func IsEncodeError(err error) bool {
	return errors.Is(err, ErrEncode)
}
