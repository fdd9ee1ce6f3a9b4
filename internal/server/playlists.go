package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/maauso/highlight-reel/internal/clip"
)

// PlaylistStore stores players' playlists. clip.Catalog implements it.
type PlaylistStore interface {
	clip.Resolver
	SavePlaylist(ctx context.Context, ref clip.PlaylistRef, title string, descs []clip.Descriptor) error
}

// SavePlaylist handles PUT /players/{player_id}/playlists/{playlist_id}.
// The body replaces the playlist's clips.
func (h *Handlers) SavePlaylist(w http.ResponseWriter, r *http.Request) {
	ref, ok := playlistRef(w, r)
	if !ok {
		return
	}

	var req SavePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	descs := make([]clip.Descriptor, len(req.Clips))
	for i, c := range req.Clips {
		descs[i] = clip.Descriptor{Name: c.Name, SourceLocation: c.Source, Order: i}
	}
	if err := h.playlists.SavePlaylist(r.Context(), ref, req.Title, descs); err != nil {
		h.logger.Error("failed to save playlist",
			slog.String("playlist", ref.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to save playlist", "PLAYLIST_SAVE_FAILED")
		return
	}

	h.logger.Info("playlist saved",
		slog.String("playlist", ref.String()),
		slog.Int("clips", len(descs)),
	)
	writeJSON(w, http.StatusOK, toPlaylistResponse(ref, descs))
}

// GetPlaylist handles GET /players/{player_id}/playlists/{playlist_id}.
func (h *Handlers) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	ref, ok := playlistRef(w, r)
	if !ok {
		return
	}

	descs, err := h.playlists.Resolve(r.Context(), ref)
	if err != nil {
		if errors.Is(err, clip.ErrPlaylistNotFound) {
			writeError(w, http.StatusNotFound, "playlist not found", "PLAYLIST_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get playlist",
			slog.String("playlist", ref.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get playlist", "PLAYLIST_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toPlaylistResponse(ref, descs))
}

func playlistRef(w http.ResponseWriter, r *http.Request) (clip.PlaylistRef, bool) {
	ref := clip.PlaylistRef{
		PlayerID:   r.PathValue("player_id"),
		PlaylistID: r.PathValue("playlist_id"),
	}
	if ref.PlayerID == "" || ref.PlaylistID == "" {
		writeError(w, http.StatusBadRequest, "player and playlist IDs are required", "MISSING_PLAYLIST_ID")
		return clip.PlaylistRef{}, false
	}
	return ref, true
}

func toPlaylistResponse(ref clip.PlaylistRef, descs []clip.Descriptor) PlaylistResponse {
	clips := make([]PlaylistClip, len(descs))
	for i, d := range descs {
		clips[i] = PlaylistClip{Name: d.Name, Source: d.SourceLocation, Order: d.Order}
	}
	return PlaylistResponse{PlayerID: ref.PlayerID, PlaylistID: ref.PlaylistID, Clips: clips}
}
