package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	PlayerID string
	Status   Status
}

// Matches reports whether j passes the filter.
func (f Filter) Matches(j *Job) bool {
	if f.PlayerID != "" && j.PlayerID != f.PlayerID {
		return false
	}
	return f.Status == "" || j.Status == f.Status
}

// Repository stores render jobs. Implementations hand out copies, so callers
// must Save after mutating a job.
type Repository interface {
	// Save creates or replaces the job.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns matching jobs, newest first.
	List(ctx context.Context, filter Filter) ([]*Job, error)

	// Delete returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
