// Package delivery packages a finished render for the caller and hands it to
// an external "save" collaborator. The compositor itself never writes files.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"time"
)

// Static errors for delivery.
var (
	// ErrInvalidName is returned for empty names or names containing path separators.
	ErrInvalidName = errors.New("invalid output name")
	// ErrNotFound is returned when a saved output does not exist.
	ErrNotFound = errors.New("output not found")
	// ErrNotConfigured is returned when a saver is used without its settings.
	ErrNotConfigured = errors.New("saver is not configured")
)

// Output is one finished render: a complete, independently playable buffer
// plus the name it should be saved under.
type Output struct {
	Data        []byte
	FileName    string
	ContentType string
	// Duration of the output timeline in seconds.
	Duration float64
	// Frames is the number of encoded video frames.
	Frames int
}

// Size returns the length of the buffer in bytes.
func (o *Output) Size() int {
	return len(o.Data)
}

// Reader returns a seekable reader over the buffer.
func (o *Output) Reader() *bytes.Reader {
	return bytes.NewReader(o.Data)
}

// TimestampLayout is the timestamp part of output file names.
const TimestampLayout = "20060102T150405"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// FileName returns highlight_<playerID>_<timestamp>.<ext>. Characters outside
// [A-Za-z0-9_-] in the player id are replaced with '-'.
func FileName(playerID string, at time.Time, ext string) string {
	id := strings.Trim(unsafeChars.ReplaceAllString(playerID, "-"), "-")
	if id == "" {
		id = "player"
	}
	ext = strings.TrimPrefix(ext, ".")
	return "highlight_" + id + "_" + at.UTC().Format(TimestampLayout) + "." + ext
}

// Saver persists a finished output under name and returns where it went.
type Saver interface {
	Save(ctx context.Context, name string, data io.Reader) (string, error)
}

// validName rejects names that could escape the saver's root.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

// ContentTypeFor guesses the MIME type of a delivered file from its name.
func ContentTypeFor(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".mp4") {
		return "video/mp4"
	}
	return "application/octet-stream"
}
