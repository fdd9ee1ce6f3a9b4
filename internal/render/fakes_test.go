package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/encode"
)

const (
	testWidth  = 8
	testHeight = 6
)

// fakeMedia is an in-memory media library shared by the fake prober and
// opener. Each location decodes to a solid colour.
type fakeMedia struct {
	mu sync.Mutex

	infos  map[string]decode.Info
	colour map[string]color.RGBA

	probeErr map[string]error
	openErr  map[string]error
	// failFrom makes reads of a location fail from this clip-relative time on.
	failFrom map[string]float64

	probes  int
	opens   int
	open    int
	maxOpen int
	reads   map[string][]float64
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		infos:    make(map[string]decode.Info),
		colour:   make(map[string]color.RGBA),
		probeErr: make(map[string]error),
		openErr:  make(map[string]error),
		failFrom: make(map[string]float64),
		reads:    make(map[string][]float64),
	}
}

func (m *fakeMedia) add(location string, duration float64, c color.RGBA, hasAudio bool) clip.Descriptor {
	m.infos[location] = decode.Info{Duration: duration, Width: testWidth, Height: testHeight, FPS: 25, HasAudio: hasAudio}
	m.colour[location] = c
	return clip.Descriptor{Name: "clip-" + location, SourceLocation: location}
}

func (m *fakeMedia) Probe(_ context.Context, location string) (decode.Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes++
	if err := m.probeErr[location]; err != nil {
		return decode.Info{}, err
	}
	info, ok := m.infos[location]
	if !ok {
		return decode.Info{}, fmt.Errorf("%w: %s", decode.ErrSourceUnavailable, location)
	}
	return info, nil
}

func (m *fakeMedia) Open(_ context.Context, location string) (decode.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.openErr[location]; err != nil {
		return nil, err
	}
	info, ok := m.infos[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", decode.ErrSourceUnavailable, location)
	}
	m.opens++
	m.open++
	m.maxOpen = max(m.maxOpen, m.open)
	return &fakeSource{media: m, location: location, info: info}, nil
}

func (m *fakeMedia) stats() (opens, open, maxOpen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens, m.open, m.maxOpen
}

func (m *fakeMedia) readsOf(location string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.reads[location]...)
}

type fakeSource struct {
	media    *fakeMedia
	location string
	info     decode.Info
	closed   bool
}

func (s *fakeSource) Info() decode.Info { return s.info }

func (s *fakeSource) ReadAt(t float64) (*image.RGBA, error) {
	m := s.media
	m.mu.Lock()
	m.reads[s.location] = append(m.reads[s.location], t)
	from, failing := m.failFrom[s.location]
	c := m.colour[s.location]
	m.mu.Unlock()

	if failing && t >= from {
		return nil, errors.New("corrupt packet")
	}
	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img, nil
}

func (s *fakeSource) Seek(float64) error { return nil }

func (s *fakeSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.media.mu.Lock()
	s.media.open--
	s.media.mu.Unlock()
	return nil
}

// event is one call received by the fake encoder, in arrival order.
type event struct {
	audio bool
	t     float64
	seg   encode.Segment
	pixel color.RGBA
}

type fakeEncoder struct {
	mu        sync.Mutex
	events    []event
	finalized int
	aborted   int
	opts      encode.Options

	failFrame int // 1-based frame number that fails, 0 never
	onFrame   func(t float64)
}

func (e *fakeEncoder) PushFrame(_ context.Context, frame *image.RGBA, t float64) error {
	e.mu.Lock()
	n := e.frameCountLocked() + 1
	if e.failFrame > 0 && n == e.failFrame {
		e.mu.Unlock()
		return fmt.Errorf("%w: encoder rejected frame", encode.ErrEncode)
	}
	e.events = append(e.events, event{t: t, pixel: frame.RGBAAt(0, 0)})
	hook := e.onFrame
	e.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	return nil
}

func (e *fakeEncoder) PushAudio(_ context.Context, seg encode.Segment) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event{audio: true, t: seg.OutputStart, seg: seg})
	return nil
}

func (e *fakeEncoder) Finalize(context.Context) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finalized++
	return []byte("reel"), nil
}

func (e *fakeEncoder) Abort() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.finalized == 0 {
		e.aborted++
	}
	return nil
}

func (e *fakeEncoder) frameCountLocked() int {
	n := 0
	for _, ev := range e.events {
		if !ev.audio {
			n++
		}
	}
	return n
}

func (e *fakeEncoder) frames() []event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []event
	for _, ev := range e.events {
		if !ev.audio {
			out = append(out, ev)
		}
	}
	return out
}

func (e *fakeEncoder) audio() []encode.Segment {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []encode.Segment
	for _, ev := range e.events {
		if ev.audio {
			out = append(out, ev.seg)
		}
	}
	return out
}

// indexOf returns the position of the first event matching pred.
func (e *fakeEncoder) indexOf(pred func(event) bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, ev := range e.events {
		if pred(ev) {
			return i
		}
	}
	return -1
}

type fakeFactory struct {
	enc *fakeEncoder
	err error
}

func (f *fakeFactory) NewEncoder(_ context.Context, opts encode.Options) (encode.Encoder, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.enc.opts = opts
	return f.enc, nil
}

var (
	red   = color.RGBA{R: 200, A: 255}
	green = color.RGBA{G: 200, A: 255}
	blue  = color.RGBA{B: 200, A: 255}
)
