// Package server provides the HTTP API of the highlight reel service.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ClipRequest is one inline clip of a render request.
type ClipRequest struct {
	// Name is the display name shown in progress messages.
	Name string `json:"name" validate:"max=256"`
	// Source is a path or URL readable by ffmpeg.
	Source string `json:"source" validate:"required"`
}

// TransitionRequest overrides the transition of one seam.
type TransitionRequest struct {
	// Seam is the index of the boundary between clip Seam and clip Seam+1.
	Seam int `json:"seam" validate:"min=0"`
	// Kind is a transition name such as "fade" or "slide_left".
	Kind string `json:"kind" validate:"required"`
	// Duration is the transition length in seconds.
	Duration float64 `json:"duration" validate:"min=0,max=10"`
}

// CreateRenderRequest is the HTTP request body for starting a render.
// Either PlaylistID or Clips selects the clips.
type CreateRenderRequest struct {
	PlayerID    string              `json:"player_id" validate:"required,max=128"`
	PlaylistID  string              `json:"playlist_id,omitempty" validate:"max=128"`
	Clips       []ClipRequest       `json:"clips,omitempty" validate:"dive"`
	Order       []int               `json:"order,omitempty" validate:"dive,min=0"`
	Transitions []TransitionRequest `json:"transitions,omitempty" validate:"dive"`
}

// SavePlaylistRequest is the HTTP request body for storing a playlist.
// Clips are kept in request order.
type SavePlaylistRequest struct {
	Title string        `json:"title" validate:"max=256"`
	Clips []ClipRequest `json:"clips" validate:"dive"`
}

// PlaylistClip is one stored clip of a playlist.
type PlaylistClip struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Order  int    `json:"order"`
}

// PlaylistResponse is the HTTP response for a stored playlist.
type PlaylistResponse struct {
	PlayerID   string         `json:"player_id"`
	PlaylistID string         `json:"playlist_id"`
	Clips      []PlaylistClip `json:"clips"`
}

// CreateRenderResponse is the HTTP response after creating a render.
type CreateRenderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// RenderResponse describes one render job.
type RenderResponse struct {
	ID       string `json:"id"`
	PlayerID string `json:"player_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	Error     string   `json:"error,omitempty"`
	ErrorKind string   `json:"error_kind,omitempty"`
	FailedAt  *float64 `json:"failed_at,omitempty"`

	FileName  string  `json:"file_name,omitempty"`
	OutputURL string  `json:"output_url,omitempty"`
	Size      int     `json:"size,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Frames    int     `json:"frames,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListRendersResponse is the HTTP response for listing renders.
type ListRendersResponse struct {
	Renders []RenderResponse `json:"renders"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
