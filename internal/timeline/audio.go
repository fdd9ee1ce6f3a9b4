package timeline

import (
	"fmt"
	"strings"
)

// AudioMode selects how clip audio is handed over at a seam.
type AudioMode int

const (
	// AudioSwitchMidpoint plays the outgoing clip's audio up to the middle of
	// the overlap and the incoming clip's audio from there on.
	AudioSwitchMidpoint AudioMode = iota
	// AudioCrossfade overlaps both tracks for the whole overlap window.
	AudioCrossfade
)

func (m AudioMode) String() string {
	switch m {
	case AudioSwitchMidpoint:
		return "midpoint"
	case AudioCrossfade:
		return "crossfade"
	default:
		return fmt.Sprintf("audio_mode(%d)", int(m))
	}
}

// ParseAudioMode parses "midpoint" or "crossfade".
func ParseAudioMode(s string) (AudioMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "midpoint", "switch":
		return AudioSwitchMidpoint, nil
	case "crossfade":
		return AudioCrossfade, nil
	}
	return AudioSwitchMidpoint, fmt.Errorf("unknown audio mode %q", s)
}

// AudioSegment is a slice of one clip's own audio placed on the output
// timeline. Segments are ordered by OutputStart.
type AudioSegment struct {
	// Entry is the timeline entry whose source provides the audio.
	Entry int
	// OutputStart is where the segment begins in the output.
	OutputStart float64
	// SourceStart is the offset into the clip's own audio.
	SourceStart float64
	// Duration is the segment length in seconds.
	Duration float64
	// CrossfadeIn is how long this segment overlaps the previous one.
	// Always zero in midpoint mode.
	CrossfadeIn float64
}

// AudioPlan returns the audio segments for the timeline in output order.
func (tl *Timeline) AudioPlan(mode AudioMode) []AudioSegment {
	n := len(tl.entries)
	segs := make([]AudioSegment, 0, n)
	for i, e := range tl.entries {
		var seg AudioSegment
		switch mode {
		case AudioCrossfade:
			seg = AudioSegment{
				Entry:       i,
				OutputStart: e.StartTime,
				Duration:    e.Clip.Duration,
			}
			if i > 0 {
				seg.CrossfadeIn = tl.seams[i-1].Duration
			}
		default:
			in := e.StartTime
			if i > 0 {
				in += tl.seams[i-1].Duration / 2
			}
			out := e.EndTime
			if i < n-1 {
				out -= tl.seams[i].Duration / 2
			}
			seg = AudioSegment{
				Entry:       i,
				OutputStart: in,
				SourceStart: in - e.StartTime,
				Duration:    out - in,
			}
		}
		segs = append(segs, seg)
	}
	return segs
}
