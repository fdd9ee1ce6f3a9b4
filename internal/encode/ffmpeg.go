package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Audio settings of the muxed output.
const (
	audioSampleRate = 48000
	audioBitrate    = "128k"
)

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func runFFmpeg(ctx context.Context, ffmpegPath string, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// buildMuxArgs returns the ffmpeg arguments that combine the video-only
// stream with the recorded audio segments into outputPath.
//
// Each segment is cut from its source with atrim and rebased to zero; clips
// without audio contribute silence of the same length. Consecutive segments
// are joined with concat, or acrossfade when a segment declares a crossfade.
func buildMuxArgs(videoPath, outputPath string, segs []Segment) []string {
	args := []string{"-y", "-i", videoPath}

	hasAudio := false
	for _, s := range segs {
		if s.HasAudio && s.Duration > 0 {
			hasAudio = true
			break
		}
	}
	if !hasAudio {
		return append(args,
			"-map", "0:v",
			"-c:v", "copy",
			"-movflags", "+faststart",
			outputPath,
		)
	}

	// One input per distinct audio source.
	inputs := make(map[string]int)
	for _, s := range segs {
		if !s.HasAudio || s.Duration <= 0 {
			continue
		}
		if _, ok := inputs[s.Source]; !ok {
			inputs[s.Source] = len(inputs) + 1
			args = append(args, "-i", s.Source)
		}
	}

	format := fmt.Sprintf("aformat=sample_fmts=fltp:sample_rates=%d:channel_layouts=stereo", audioSampleRate)
	var graph []string
	labels := make([]string, 0, len(segs))
	fades := make([]float64, 0, len(segs))
	for _, s := range segs {
		if s.Duration <= 0 {
			continue
		}
		label := fmt.Sprintf("a%d", len(labels))
		if s.HasAudio {
			graph = append(graph, fmt.Sprintf("[%d:a]atrim=start=%.6f:duration=%.6f,asetpts=PTS-STARTPTS,%s[%s]",
				inputs[s.Source], s.SourceStart, s.Duration, format, label))
		} else {
			graph = append(graph, fmt.Sprintf("anullsrc=r=%d:cl=stereo,atrim=duration=%.6f,asetpts=PTS-STARTPTS,%s[%s]",
				audioSampleRate, s.Duration, format, label))
		}
		labels = append(labels, label)
		fades = append(fades, s.CrossfadeIn)
	}

	out := labels[0]
	for i := 1; i < len(labels); i++ {
		next := fmt.Sprintf("m%d", i)
		if fades[i] > 0 {
			graph = append(graph, fmt.Sprintf("[%s][%s]acrossfade=d=%.6f:c1=tri:c2=tri[%s]", out, labels[i], fades[i], next))
		} else {
			graph = append(graph, fmt.Sprintf("[%s][%s]concat=n=2:v=0:a=1[%s]", out, labels[i], next))
		}
		out = next
	}

	return append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "0:v",
		"-map", "["+out+"]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", audioBitrate,
		"-movflags", "+faststart",
		outputPath,
	)
}
