package recipe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/highlight-reel/internal/transition"
)

const sample = `
player_id: p7
fps: 25
audio_mode: crossfade
clips:
  - name: dunk
    source: clips/dunk.mp4
  - source: /abs/block.mp4
  - source: https://cdn.example.com/steal.mp4
transitions:
  - seam: 1
    kind: fade-to-black
    duration: 0.75
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	rec, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "p7", rec.PlayerID)
	assert.InDelta(t, 25, rec.FPS, 1e-9)
	assert.Equal(t, "crossfade", rec.AudioMode)

	descs := rec.Descriptors()
	require.Len(t, descs, 3)
	assert.Equal(t, "dunk", descs[0].Name)
	assert.Equal(t, filepath.Join(dir, "clips/dunk.mp4"), descs[0].SourceLocation)
	assert.Equal(t, "block", descs[1].Name)
	assert.Equal(t, "/abs/block.mp4", descs[1].SourceLocation)
	assert.Equal(t, "https://cdn.example.com/steal.mp4", descs[2].SourceLocation)
	for i, d := range descs {
		assert.Equal(t, i, d.Order)
	}

	seams, err := rec.Seams()
	require.NoError(t, err)
	require.Len(t, seams, 1)
	assert.Equal(t, 1, seams[0].SeamIndex)
	assert.Equal(t, transition.FadeToBlack, seams[0].Kind)
	assert.InDelta(t, 0.75, seams[0].Duration, 1e-9)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"missing player", "clips:\n  - source: a.mp4\n"},
		{"missing source", "player_id: p7\nclips:\n  - name: a\n"},
		{"unknown key", "player_id: p7\nclip:\n  - source: a.mp4\n"},
		{"bad audio mode", "player_id: p7\naudio_mode: surround\n"},
		{"negative duration", "player_id: p7\ntransitions:\n  - seam: 0\n    kind: fade\n    duration: -1\n"},
		{"not yaml", "player_id: [p7\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, ErrInvalidRecipe)
		})
	}
}

func TestSeams_UnknownKind(t *testing.T) {
	rec, err := Parse(strings.NewReader("player_id: p7\ntransitions:\n  - seam: 0\n    kind: spin\n"))
	require.NoError(t, err)

	_, err = rec.Seams()
	assert.ErrorIs(t, err, ErrInvalidRecipe)
	assert.ErrorIs(t, err, transition.ErrUnknownKind)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
