// Package job provides the render job aggregate, its repository and the
// RenderService use case that drives a render from request to saved output.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/highlight-reel/internal/clip"
	"github.com/maauso/highlight-reel/internal/job/id"
	"github.com/maauso/highlight-reel/internal/progress"
	"github.com/maauso/highlight-reel/internal/timeline"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free render slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the job is being rendered.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the reel was rendered and saved.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the render or the delivery failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the caller.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job is one highlight reel render request and its outcome.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// PlayerID names the player the reel is built for.
	PlayerID string
	// PlaylistID, when set, is resolved through the clip catalog.
	PlaylistID string
	// Clips are used as-is when no PlaylistID is given.
	Clips []clip.Descriptor
	// Order is an optional operator permutation applied to the resolved clips.
	Order []int
	// Seams overrides individual seam transitions.
	Seams []timeline.SeamSetting

	// Status is the current job state.
	Status Status
	// Stage is the render stage of the latest progress update.
	Stage progress.Stage
	// Progress is the percentage of the current stage (0-100).
	Progress int
	// Message is the message of the latest progress update.
	Message string

	// Error contains the failure message if the job failed.
	Error string
	// ErrorKind classifies the failure, e.g. "decode_error".
	ErrorKind string
	// FailedAt is the output position of the failure in seconds, -1 if none.
	FailedAt float64

	// OutputName is the delivered file name.
	OutputName string
	// OutputLocation is where the Saver put the file (path or URL).
	OutputLocation string
	// OutputSize is the size of the delivered file in bytes.
	OutputSize int
	// Duration is the length of the reel in seconds.
	Duration float64
	// Frames is the number of frames in the reel.
	Frames int

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		FailedAt:  -1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED, recording the failure kind and the
// output position where it happened (-1 when unknown).
func (j *Job) Fail(kind string, at float64, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.FailedAt = at
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records the latest progress update.
func (j *Job) UpdateProgress(p progress.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Stage = p.Stage
	j.Progress = min(max(p.Percent, 0), 100)
	j.Message = p.Message
	j.UpdatedAt = time.Now()
}

// SetOutput records where the finished reel was delivered.
func (j *Job) SetOutput(name, location string, size int, duration float64, frames int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputName = name
	j.OutputLocation = location
	j.OutputSize = size
	j.Duration = duration
	j.Frames = frames
	j.UpdatedAt = time.Now()
}

// ClearOutput forgets the delivered file, e.g. after it was removed.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputName = ""
	j.OutputLocation = ""
	j.OutputSize = 0
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return isTerminal(j.Status)
}

func isTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:             j.ID,
		PlayerID:       j.PlayerID,
		PlaylistID:     j.PlaylistID,
		Clips:          slices.Clone(j.Clips),
		Order:          slices.Clone(j.Order),
		Seams:          slices.Clone(j.Seams),
		Status:         j.Status,
		Stage:          j.Stage,
		Progress:       j.Progress,
		Message:        j.Message,
		Error:          j.Error,
		ErrorKind:      j.ErrorKind,
		FailedAt:       j.FailedAt,
		OutputName:     j.OutputName,
		OutputLocation: j.OutputLocation,
		OutputSize:     j.OutputSize,
		Duration:       j.Duration,
		Frames:         j.Frames,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
