package decode

import (
	"context"
	"fmt"
	"image"
	"math"

	vidio "github.com/AlexEidt/Vidio"
)

// Compile-time check that VidioOpener implements Opener.
var _ Opener = (*VidioOpener)(nil)

// VidioOpener opens sources with Vidio, which pipes raw RGBA frames out of an
// ffmpeg subprocess.
type VidioOpener struct{}

// NewVidioOpener creates a VidioOpener. Vidio locates ffmpeg and ffprobe on PATH.
func NewVidioOpener() *VidioOpener {
	return &VidioOpener{}
}

// Open implements Opener.
func (o *VidioOpener) Open(ctx context.Context, location string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open cancelled: %w", err)
	}
	src := &vidioSource{location: location, index: -1}
	if err := src.reopen(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, location, err)
	}
	v := src.video
	src.info = Info{
		Duration: v.Duration(),
		Width:    v.Width(),
		Height:   v.Height(),
		FPS:      v.FPS(),
		HasAudio: v.HasStreams(),
	}
	if src.info.FPS <= 0 {
		src.close()
		return nil, fmt.Errorf("%w: %s: invalid frame rate %v", ErrSourceUnavailable, location, v.FPS())
	}
	src.frames = v.Frames()
	return src, nil
}

// vidioSource reads frames sequentially. Vidio only streams forward, so a
// backwards request reopens the file and reads forward again.
type vidioSource struct {
	location string
	video    *vidio.Video
	info     Info
	frames   int

	// index of the frame currently in the video's buffer, -1 before the first Read.
	index int
	eof   bool
}

func (s *vidioSource) reopen() error {
	s.close()
	v, err := vidio.NewVideo(s.location)
	if err != nil {
		return err
	}
	s.video = v
	s.index = -1
	s.eof = false
	return nil
}

func (s *vidioSource) close() {
	if s.video != nil {
		s.video.Close()
		s.video = nil
	}
}

func (s *vidioSource) Info() Info {
	return s.info
}

// frameIndex maps clip-relative time to a native frame number.
func (s *vidioSource) frameIndex(t float64) int {
	n := int(math.Floor(t*s.info.FPS + 1e-6))
	if n < 0 {
		n = 0
	}
	if s.frames > 0 && n >= s.frames {
		n = s.frames - 1
	}
	return n
}

func (s *vidioSource) ReadAt(t float64) (*image.RGBA, error) {
	if s.video == nil {
		if err := s.reopen(); err != nil {
			return nil, fmt.Errorf("reopen %s: %w", s.location, err)
		}
	}
	n := s.frameIndex(t)
	if n < s.index {
		if err := s.reopen(); err != nil {
			return nil, fmt.Errorf("reopen %s: %w", s.location, err)
		}
	}
	for s.index < n && !s.eof {
		if !s.video.Read() {
			// Container frame counts are estimates; hold the last frame.
			s.eof = true
			break
		}
		s.index++
	}
	if s.index < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFrames, s.location)
	}

	w, h := s.video.Width(), s.video.Height()
	buf := s.video.FrameBuffer()
	if len(buf) < w*h*4 {
		return nil, fmt.Errorf("short frame buffer for %s: got %d bytes, want %d", s.location, len(buf), w*h*4)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, buf[:w*h*4])
	return img, nil
}

func (s *vidioSource) Seek(_ float64) error {
	return s.reopen()
}

func (s *vidioSource) Close() error {
	s.close()
	return nil
}
