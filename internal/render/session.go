package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/metrics"
	"github.com/maauso/highlight-reel/internal/timeline"
)

// maxAdapters is the number of clips that may be decoded at once: the
// outgoing and incoming clip of one seam.
const maxAdapters = 2

// Session owns everything one render touches: the timeline, up to two open
// decode adapters keyed by timeline index, and the encoder. Nothing in a
// Session is shared with another render.
type Session struct {
	tl      *timeline.Timeline
	opener  decode.Opener
	encoder encode.Encoder
	width   int
	height  int
	logger  *slog.Logger

	mu       sync.Mutex
	adapters map[int]*decode.Adapter
	opened   int
	closed   bool
}

// NewSession creates a session for tl. Adapters are opened lazily through
// opener at width x height.
func NewSession(tl *timeline.Timeline, opener decode.Opener, enc encode.Encoder, width, height int, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		tl:       tl,
		opener:   opener,
		encoder:  enc,
		width:    width,
		height:   height,
		logger:   logger,
		adapters: make(map[int]*decode.Adapter, maxAdapters),
	}
}

// Timeline returns the session's timeline.
func (s *Session) Timeline() *timeline.Timeline {
	return s.tl
}

// Encoder returns the session's encoder.
func (s *Session) Encoder() encode.Encoder {
	return s.encoder
}

// Size returns the output frame size.
func (s *Session) Size() (int, int) {
	return s.width, s.height
}

// OpenAdapters returns how many adapters are currently open.
func (s *Session) OpenAdapters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.adapters)
}

// TotalOpened returns how many adapters were opened over the session's life.
func (s *Session) TotalOpened() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// IsOpen reports whether the adapter for entry i is open.
func (s *Session) IsOpen(i int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.adapters[i]
	return ok
}

// Adapter returns the open adapter for entry i.
func (s *Session) Adapter(i int) (*decode.Adapter, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.adapters[i]
	return a, ok
}

// Open opens the adapter for entry i if it is not open yet.
func (s *Session) Open(ctx context.Context, i int) (*decode.Adapter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("session closed")
	}
	if a, ok := s.adapters[i]; ok {
		return a, nil
	}
	if len(s.adapters) >= maxAdapters {
		return nil, fmt.Errorf("%w: opening entry %d", errTooManyAdapters, i)
	}

	e := s.tl.Entry(i)
	a, err := decode.Open(ctx, s.opener, e.Clip.Name, e.Clip.SourceLocation, s.width, s.height, s.logger)
	if err != nil {
		return nil, err
	}
	s.adapters[i] = a
	s.opened++
	metrics.DecodersOpen.Inc()
	s.logger.Debug("decode adapter opened",
		slog.Int("entry", i),
		slog.String("clip", e.Clip.Name),
		slog.Float64("start", e.StartTime),
	)
	return a, nil
}

// Release closes the adapter for entry i if it is open.
func (s *Session) Release(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(i)
}

func (s *Session) releaseLocked(i int) {
	a, ok := s.adapters[i]
	if !ok {
		return
	}
	delete(s.adapters, i)
	metrics.DecodersOpen.Dec()
	metrics.DecodeRetries.Add(float64(a.Retries()))
	if err := a.Close(); err != nil {
		s.logger.Warn("failed to close decode adapter",
			slog.Int("entry", i),
			slog.String("clip", a.Name()),
			slog.String("error", err.Error()),
		)
	}
}

// CloseAdapters closes every open adapter.
func (s *Session) CloseAdapters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.adapters {
		s.releaseLocked(i)
	}
}

// Close releases all adapters and aborts the encoder. It is safe to call more
// than once and after a successful Finalize.
func (s *Session) Close() error {
	s.CloseAdapters()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.encoder == nil {
		return nil
	}
	return s.encoder.Abort()
}
