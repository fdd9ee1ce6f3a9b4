// Package clip resolves playlist references into ordered clip descriptors.
// The catalog of clips lives in an external data store; this package only
// exposes it through the Resolver port.
package clip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Static errors for clip resolution.
var (
	// ErrPlaylistNotFound is returned when a playlist reference cannot be resolved.
	ErrPlaylistNotFound = errors.New("playlist not found")
	// ErrInvalidOrder is returned when a reorder permutation is malformed.
	ErrInvalidOrder = errors.New("invalid clip order")
)

// Descriptor identifies one input video.
type Descriptor struct {
	// Name is the display name of the clip.
	Name string `json:"name" yaml:"name"`
	// SourceLocation is a path or URL readable by ffmpeg.
	SourceLocation string `json:"source_location" yaml:"source" validate:"required"`
	// Order is the clip's position within its playlist.
	Order int `json:"order" yaml:"order"`
}

// PlaylistRef points at one playlist of one player.
type PlaylistRef struct {
	PlayerID   string
	PlaylistID string
}

func (r PlaylistRef) String() string {
	return r.PlayerID + "/" + r.PlaylistID
}

// Resolver yields the ordered clips of a playlist.
type Resolver interface {
	// Resolve returns the playlist's clips sorted by Order.
	// Returns ErrPlaylistNotFound if the playlist does not exist.
	Resolve(ctx context.Context, ref PlaylistRef) ([]Descriptor, error)
}

// SortByOrder sorts descriptors by their Order field, keeping insertion order
// for ties.
func SortByOrder(descs []Descriptor) {
	sort.SliceStable(descs, func(i, j int) bool { return descs[i].Order < descs[j].Order })
}

// Reorder applies an operator-chosen permutation: the result's i-th clip is
// descs[order[i]]. Order fields are renumbered 0..n-1. An empty order keeps
// the input sequence.
func Reorder(descs []Descriptor, order []int) ([]Descriptor, error) {
	out := make([]Descriptor, len(descs))
	if len(order) == 0 {
		copy(out, descs)
		for i := range out {
			out[i].Order = i
		}
		return out, nil
	}
	if len(order) != len(descs) {
		return nil, fmt.Errorf("%w: %d positions for %d clips", ErrInvalidOrder, len(order), len(descs))
	}
	seen := make([]bool, len(descs))
	for i, idx := range order {
		if idx < 0 || idx >= len(descs) || seen[idx] {
			return nil, fmt.Errorf("%w: position %d refers to clip %d", ErrInvalidOrder, i, idx)
		}
		seen[idx] = true
		out[i] = descs[idx]
		out[i].Order = i
	}
	return out, nil
}

// Compile-time check that StaticResolver implements Resolver.
var _ Resolver = (*StaticResolver)(nil)

// StaticResolver is an in-memory Resolver keyed by playlist reference.
type StaticResolver struct {
	mu        sync.RWMutex
	playlists map[PlaylistRef][]Descriptor
}

// NewStaticResolver creates an empty StaticResolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{playlists: make(map[PlaylistRef][]Descriptor)}
}

// Put stores a playlist, replacing any previous one under ref.
func (r *StaticResolver) Put(ref PlaylistRef, descs []Descriptor) {
	cp := make([]Descriptor, len(descs))
	copy(cp, descs)
	SortByOrder(cp)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playlists[ref] = cp
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, ref PlaylistRef) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs, ok := r.playlists[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlaylistNotFound, ref)
	}
	out := make([]Descriptor, len(descs))
	copy(out, descs)
	return out, nil
}
