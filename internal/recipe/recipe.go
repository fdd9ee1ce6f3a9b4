// Package recipe reads YAML files describing a highlight reel for the
// command-line renderer.
//
//	player_id: p7
//	clips:
//	  - name: dunk
//	    source: clips/dunk.mp4
//	  - name: block
//	    source: clips/block.mp4
//	transitions:
//	  - seam: 0
//	    kind: slide_left
//	    duration: 1
//
// Relative sources are resolved against the recipe's directory.
package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/timeline"
	"github.com/maauso/highlight-reel/internal/transition"
)

// ErrInvalidRecipe wraps every parse and validation failure.
var ErrInvalidRecipe = errors.New("invalid recipe")

// Clip is one recipe clip.
type Clip struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source" validate:"required"`
}

// Transition overrides one seam.
type Transition struct {
	Seam     int     `yaml:"seam" validate:"min=0"`
	Kind     string  `yaml:"kind" validate:"required"`
	Duration float64 `yaml:"duration" validate:"min=0"`
}

// Recipe describes one reel. Output settings are optional and fall back to
// the environment configuration.
type Recipe struct {
	PlayerID    string       `yaml:"player_id" validate:"required"`
	Clips       []Clip       `yaml:"clips" validate:"dive"`
	Transitions []Transition `yaml:"transitions" validate:"dive"`

	FPS       float64 `yaml:"fps" validate:"min=0"`
	Width     int     `yaml:"width" validate:"min=0"`
	Height    int     `yaml:"height" validate:"min=0"`
	AudioMode string  `yaml:"audio_mode" validate:"omitempty,oneof=midpoint crossfade"`
}

var validate = validator.New()

// Parse decodes a recipe. Unknown keys are rejected so typos surface early.
func Parse(r io.Reader) (*Recipe, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var rec Recipe
	if err := dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidRecipe)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	if err := validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRecipe, err)
	}
	return &rec, nil
}

// Load reads the recipe at path and resolves relative clip sources against
// its directory.
func Load(path string) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recipe: %w", err)
	}
	rec, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	rec.resolveSources(filepath.Dir(path))
	return rec, nil
}

func (r *Recipe) resolveSources(base string) {
	for i, c := range r.Clips {
		if filepath.IsAbs(c.Source) || strings.Contains(c.Source, "://") {
			continue
		}
		r.Clips[i].Source = filepath.Join(base, c.Source)
	}
}

// Descriptors returns the clips in recipe order. Unnamed clips are named
// after their source file.
func (r *Recipe) Descriptors() []clip.Descriptor {
	descs := make([]clip.Descriptor, len(r.Clips))
	for i, c := range r.Clips {
		name := c.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(c.Source), filepath.Ext(c.Source))
		}
		descs[i] = clip.Descriptor{Name: name, SourceLocation: c.Source, Order: i}
	}
	return descs
}

// Seams converts the transition overrides.
func (r *Recipe) Seams() ([]timeline.SeamSetting, error) {
	seams := make([]timeline.SeamSetting, 0, len(r.Transitions))
	for _, t := range r.Transitions {
		kind, err := transition.ParseKind(t.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: seam %d: %w", ErrInvalidRecipe, t.Seam, err)
		}
		seams = append(seams, timeline.SeamSetting{SeamIndex: t.Seam, Kind: kind, Duration: t.Duration})
	}
	return seams, nil
}
