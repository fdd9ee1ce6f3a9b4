package render

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/decode"
	"github.com/maauso/highlight-reel/internal/encode"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/timeline"
	"github.com/maauso/highlight-reel/internal/transition"
)

var fixedNow = time.Date(2026, 3, 14, 9, 5, 7, 0, time.UTC)

func newTestRenderer(media *fakeMedia, enc *fakeEncoder, opts ...Option) *Renderer {
	base := []Option{WithFPS(10), WithClock(func() time.Time { return fixedNow })}
	return New(media, media, &fakeFactory{enc: enc}, append(base, opts...)...)
}

// threeClips is the [5, 4, 6] playlist with overlaps [1, 1.5].
func threeClips(media *fakeMedia) ([]clip.Descriptor, []timeline.SeamSetting) {
	clips := []clip.Descriptor{
		media.add("a", 5, red, true),
		media.add("b", 4, green, true),
		media.add("c", 6, blue, false),
	}
	seams := []timeline.SeamSetting{
		{SeamIndex: 0, Kind: transition.Fade, Duration: 1},
		{SeamIndex: 1, Kind: transition.Fade, Duration: 1.5},
	}
	return clips, seams
}

func cutSeams(n int) []timeline.SeamSetting {
	out := make([]timeline.SeamSetting, 0, n-1)
	for i := 0; i < n-1; i++ {
		out = append(out, timeline.SeamSetting{SeamIndex: i, Kind: transition.None})
	}
	return out
}

func frameAt(t *testing.T, frames []event, ts float64) event {
	t.Helper()
	for _, f := range frames {
		if math.Abs(f.t-ts) < 1e-6 {
			return f
		}
	}
	t.Fatalf("no frame at %.3f", ts)
	return event{}
}

func TestRender_ThreeClips(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips, seams := threeClips(media)

	var updates []progress.Progress
	r := newTestRenderer(media, enc, WithProgressInterval(0))
	out, err := r.Render(context.Background(), Request{
		PlayerID: "p23",
		Clips:    clips,
		Seams:    seams,
		Observer: func(p progress.Progress) { updates = append(updates, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, []byte("reel"), out.Data)
	assert.Equal(t, "highlight_p23_20260314T090507.mp4", out.FileName)
	assert.Equal(t, encode.ContentType, out.ContentType)
	assert.InDelta(t, 12.5, out.Duration, 1e-9)
	assert.Equal(t, 125, out.Frames)

	frames := enc.frames()
	require.Len(t, frames, 125)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].t, frames[i-1].t, "frame %d out of order", i)
	}

	assert.Equal(t, red, frameAt(t, frames, 0).pixel)
	assert.Equal(t, color.RGBA{R: 100, G: 100, A: 255}, frameAt(t, frames, 4.5).pixel, "fade midpoint")
	assert.Equal(t, green, frameAt(t, frames, 5).pixel)
	assert.Equal(t, blue, frameAt(t, frames, 9).pixel)

	assert.Equal(t, 1, enc.finalized)
	assert.Zero(t, enc.aborted)
	assert.Equal(t, encode.Options{Width: testWidth, Height: testHeight, FPS: 10, Quality: 0.5, QueueSize: encode.DefaultQueueSize}, enc.opts)

	opens, open, maxOpen := media.stats()
	assert.Equal(t, 3, opens)
	assert.Zero(t, open, "all adapters closed")
	assert.LessOrEqual(t, maxOpen, 2)

	require.NotEmpty(t, updates)
	var stages []progress.Stage
	for _, u := range updates {
		if len(stages) == 0 || stages[len(stages)-1] != u.Stage {
			stages = append(stages, u.Stage)
		}
	}
	assert.Equal(t, []progress.Stage{progress.Loading, progress.Compositing, progress.Encoding, progress.Finalizing}, stages)
	last := updates[len(updates)-1]
	assert.Equal(t, progress.Finalizing, last.Stage)
	assert.Equal(t, 100, last.Percent)
}

func TestRender_AudioMidpointSwitch(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips, seams := threeClips(media)

	_, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips, Seams: seams})
	require.NoError(t, err)

	segs := enc.audio()
	require.Len(t, segs, 3)

	assert.Equal(t, "a", segs[0].Source)
	assert.InDelta(t, 0, segs[0].OutputStart, 1e-9)
	assert.InDelta(t, 4.5, segs[0].Duration, 1e-9)
	assert.True(t, segs[0].HasAudio)

	assert.Equal(t, "b", segs[1].Source)
	assert.InDelta(t, 4.5, segs[1].OutputStart, 1e-9)
	assert.InDelta(t, 0.5, segs[1].SourceStart, 1e-9)
	assert.InDelta(t, 2.75, segs[1].Duration, 1e-9)

	assert.Equal(t, "c", segs[2].Source)
	assert.InDelta(t, 7.25, segs[2].OutputStart, 1e-9)
	assert.InDelta(t, 0.75, segs[2].SourceStart, 1e-9)
	assert.InDelta(t, 5.25, segs[2].Duration, 1e-9)
	assert.False(t, segs[2].HasAudio, "clip without audio is filled with silence")

	for _, s := range segs {
		assert.Zero(t, s.CrossfadeIn)
	}

	// The incoming clip's audio is handed over with the frame at the seam midpoint.
	audioIdx := enc.indexOf(func(e event) bool { return e.audio && e.seg.Source == "b" })
	before := enc.indexOf(func(e event) bool { return !e.audio && math.Abs(e.t-4.4) < 1e-6 })
	at := enc.indexOf(func(e event) bool { return !e.audio && math.Abs(e.t-4.5) < 1e-6 })
	assert.Greater(t, audioIdx, before)
	assert.Less(t, audioIdx, at)
}

func TestRender_AudioCrossfade(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips, seams := threeClips(media)

	r := newTestRenderer(media, enc, WithAudioMode(timeline.AudioCrossfade))
	_, err := r.Render(context.Background(), Request{PlayerID: "p", Clips: clips, Seams: seams})
	require.NoError(t, err)

	segs := enc.audio()
	require.Len(t, segs, 3)
	assert.InDelta(t, 5, segs[0].Duration, 1e-9)
	assert.InDelta(t, 4, segs[1].OutputStart, 1e-9)
	assert.InDelta(t, 1, segs[1].CrossfadeIn, 1e-9)
	assert.InDelta(t, 6.5, segs[2].OutputStart, 1e-9)
	assert.InDelta(t, 1.5, segs[2].CrossfadeIn, 1e-9)
}

func TestRender_SingleClip(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips := []clip.Descriptor{media.add("a", 2, red, true)}

	out, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips})
	require.NoError(t, err)

	assert.InDelta(t, 2, out.Duration, 1e-9)
	assert.Equal(t, 20, out.Frames)
	for _, f := range enc.frames() {
		assert.Equal(t, red, f.pixel)
	}
	opens, open, _ := media.stats()
	assert.Equal(t, 1, opens)
	assert.Zero(t, open)
}

func TestRender_EmptyPlaylist(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}

	out, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, KindEmptyPlaylist, KindOf(err))
	assert.ErrorIs(t, err, timeline.ErrEmptyPlaylist)

	opens, _, _ := media.stats()
	assert.Zero(t, opens, "no adapter opened")
	assert.Zero(t, media.probes)
	assert.Empty(t, enc.events)
}

func TestRender_CancelThroughReporter(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips, seams := threeClips(media)

	var reporter *progress.Reporter
	reporter = progress.NewReporter(func(p progress.Progress) {
		if p.Stage == progress.Compositing && p.Percent >= 30 {
			reporter.Cancel()
		}
	}, progress.WithInterval(0))

	out, err := newTestRenderer(media, enc).Render(context.Background(), Request{
		PlayerID: "p", Clips: clips, Seams: seams, Reporter: reporter,
	})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.ErrorIs(t, err, ErrCancelled)

	_, open, _ := media.stats()
	assert.Zero(t, open, "no adapter left open")
	assert.Zero(t, enc.finalized, "finalize never called")
	assert.Equal(t, 1, enc.aborted)
	assert.Less(t, len(enc.frames()), 125)
}

func TestRender_CancelInsideOverlap(t *testing.T) {
	media := newFakeMedia()
	clips, seams := threeClips(media)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	enc := &fakeEncoder{onFrame: func(ts float64) {
		if ts >= 4.5-1e-9 {
			cancel()
		}
	}}

	_, err := newTestRenderer(media, enc).Render(ctx, Request{PlayerID: "p", Clips: clips, Seams: seams})
	require.Error(t, err)
	assert.Equal(t, KindCancelled, KindOf(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.InDelta(t, 4.6, TimestampOf(err), 1e-6)

	_, open, _ := media.stats()
	assert.Zero(t, open, "both overlap adapters closed")
	assert.Zero(t, enc.finalized)
}

func TestRender_DecodeErrorOnSecondClip(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips := []clip.Descriptor{
		media.add("a", 3, red, true),
		media.add("b", 3, green, true),
		media.add("c", 3, blue, true),
	}
	media.failFrom["b"] = 1.0

	_, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips, Seams: cutSeams(3)})
	require.Error(t, err)
	assert.Equal(t, KindDecode, KindOf(err))
	assert.ErrorIs(t, err, decode.ErrDecode)
	assert.InDelta(t, 4.0, TimestampOf(err), 1e-9)
	assert.Contains(t, err.Error(), "failed at 0:04")

	var re *Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "clip-b", re.Clip)

	assert.Empty(t, media.readsOf("c"), "no frame requested from the third clip")
	_, open, _ := media.stats()
	assert.Zero(t, open)
	assert.Zero(t, enc.finalized)
	assert.Equal(t, 1, enc.aborted)
}

func TestRender_SourceUnavailableAtProbe(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips := []clip.Descriptor{
		media.add("a", 5, red, true),
		media.add("b", 4, green, true),
	}
	media.probeErr["b"] = errors.New("404 not found")

	_, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips})
	require.Error(t, err)
	assert.Equal(t, KindSourceUnavailable, KindOf(err))
	assert.InDelta(t, 5, TimestampOf(err), 1e-9)
	assert.Contains(t, err.Error(), "could not read source clip")

	opens, _, _ := media.stats()
	assert.Zero(t, opens)
	assert.Empty(t, enc.events)
}

func TestRender_SourceUnavailableAtOpen(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips := []clip.Descriptor{
		media.add("a", 3, red, true),
		media.add("b", 3, green, true),
	}
	media.openErr["b"] = fmt.Errorf("%w: connection reset", decode.ErrSourceUnavailable)

	_, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips, Seams: cutSeams(2)})
	require.Error(t, err)
	assert.Equal(t, KindSourceUnavailable, KindOf(err))
	assert.InDelta(t, 3, TimestampOf(err), 1e-9)

	_, open, _ := media.stats()
	assert.Zero(t, open)
	assert.Equal(t, 1, enc.aborted)
}

func TestRender_EncoderRejectsFrame(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{failFrame: 5}
	clips, seams := threeClips(media)

	_, err := newTestRenderer(media, enc).Render(context.Background(), Request{PlayerID: "p", Clips: clips, Seams: seams})
	require.Error(t, err)
	assert.Equal(t, KindEncode, KindOf(err))
	assert.ErrorIs(t, err, encode.ErrEncode)
	assert.InDelta(t, 0.4, TimestampOf(err), 1e-9)

	_, open, _ := media.stats()
	assert.Zero(t, open)
	assert.Zero(t, enc.finalized)
	assert.Equal(t, 1, enc.aborted)
}

func TestRender_EncoderUnavailable(t *testing.T) {
	media := newFakeMedia()
	clips := []clip.Descriptor{media.add("a", 1, red, true)}
	r := New(media, media, &fakeFactory{err: fmt.Errorf("%w: no ffmpeg", encode.ErrEncode)})

	_, err := r.Render(context.Background(), Request{PlayerID: "p", Clips: clips})
	assert.Equal(t, KindEncode, KindOf(err))
	opens, _, _ := media.stats()
	assert.Zero(t, opens)
}

func TestRender_InvalidSeam(t *testing.T) {
	media := newFakeMedia()
	clips := []clip.Descriptor{media.add("a", 1, red, true), media.add("b", 1, red, true)}

	_, err := newTestRenderer(media, &fakeEncoder{}).Render(context.Background(), Request{
		PlayerID: "p",
		Clips:    clips,
		Seams:    []timeline.SeamSetting{{SeamIndex: 3, Kind: transition.Fade, Duration: 1}},
	})
	assert.Equal(t, KindInvalidRequest, KindOf(err))
	assert.ErrorIs(t, err, timeline.ErrSeamOutOfRange)
	assert.Zero(t, media.probes)
}

func TestRender_NeverMoreThanTwoAdapters(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	// The middle clip is covered entirely by its two overlaps.
	clips := []clip.Descriptor{
		media.add("a", 2, red, true),
		media.add("b", 2, green, true),
		media.add("c", 2, blue, true),
	}
	seams := []timeline.SeamSetting{
		{SeamIndex: 0, Kind: transition.WipeLeft, Duration: 1},
		{SeamIndex: 1, Kind: transition.SlideRight, Duration: 1},
	}

	out, err := newTestRenderer(media, enc, WithPrefetchMargin(10*time.Second)).Render(context.Background(),
		Request{PlayerID: "p", Clips: clips, Seams: seams})
	require.NoError(t, err)
	assert.Equal(t, 40, out.Frames)

	opens, open, maxOpen := media.stats()
	assert.Equal(t, 3, opens)
	assert.Zero(t, open)
	assert.Equal(t, 2, maxOpen)
}

func TestRender_OutputSize(t *testing.T) {
	media := newFakeMedia()
	enc := &fakeEncoder{}
	clips := []clip.Descriptor{media.add("a", 1, red, true)}

	_, err := newTestRenderer(media, enc, WithOutputSize(16, 12)).Render(context.Background(), Request{PlayerID: "p", Clips: clips})
	require.NoError(t, err)
	assert.Equal(t, 16, enc.opts.Width)
	assert.Equal(t, 12, enc.opts.Height)

	w, h := New(nil, nil, nil).outputSize(decode.Info{Width: 7, Height: 5})
	assert.Equal(t, 6, w)
	assert.Equal(t, 4, h)
}

func TestScheduler_Stats(t *testing.T) {
	media := newFakeMedia()

	build := func(t *testing.T, descs []clip.Descriptor, settings []timeline.SeamSetting) *timeline.Timeline {
		t.Helper()
		clips := make([]timeline.Clip, len(descs))
		for i, d := range descs {
			clips[i] = timeline.Clip{Descriptor: d, Duration: media.infos[d.SourceLocation].Duration}
		}
		specs, err := timeline.Seams(len(clips), settings, timeline.DefaultSpec())
		require.NoError(t, err)
		tl, err := timeline.Build(clips, specs)
		require.NoError(t, err)
		return tl
	}

	t.Run("single clip never blends", func(t *testing.T) {
		tl := build(t, []clip.Descriptor{media.add("solo", 2, red, true)}, nil)
		s, err := NewScheduler(NewSession(tl, media, &fakeEncoder{}, testWidth, testHeight, nil), SchedulerConfig{FPS: 10})
		require.NoError(t, err)
		stats, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 20, stats.Frames)
		assert.Zero(t, stats.Blended)
	})

	t.Run("default fade blends for half a second", func(t *testing.T) {
		tl := build(t, []clip.Descriptor{media.add("x", 2, red, true), media.add("y", 2, green, true)}, nil)
		s, err := NewScheduler(NewSession(tl, media, &fakeEncoder{}, testWidth, testHeight, nil), SchedulerConfig{FPS: 10})
		require.NoError(t, err)
		stats, err := s.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 35, stats.Frames)
		assert.Equal(t, 5, stats.Blended)
	})

	t.Run("rejects non-positive fps", func(t *testing.T) {
		_, err := NewScheduler(&Session{}, SchedulerConfig{FPS: 0})
		assert.Error(t, err)
	})
}
