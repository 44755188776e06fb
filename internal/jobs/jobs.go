// Package jobs runs provider searches in the background, either in-process
// or through a Redis-backed asynq queue.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/zalahq/leadscout/internal/model"
)

// TaskSearchSource is the asynq task type of a Job.
const TaskSearchSource = "leads.search_source"

var (
	// ErrQueueFull is returned when the in-process queue has no free slot.
	ErrQueueFull = errors.New("background queue is full")

	// ErrQueueClosed is returned by Enqueue after Close.
	ErrQueueClosed = errors.New("background queue is closed")
)

// Job asks for one provider to be searched and its results persisted.
type Job struct {
	ID            string           `json:"id"`
	Source        model.DataSource `json:"source"`
	Location      string           `json:"location"`
	DynamicFilter string           `json:"dynamic_filter,omitempty"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
}

// NewJob creates a job with a fresh id.
func NewJob(src model.DataSource, location, dynamicFilter string) Job {
	return Job{
		ID:            uuid.NewString(),
		Source:        src,
		Location:      location,
		DynamicFilter: dynamicFilter,
		EnqueuedAt:    time.Now().UTC(),
	}
}

// Handler processes a job.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// Queue accepts jobs for background processing.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Close(ctx context.Context) error
}

func encodeJob(job Job) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, eris.Wrap(err, "jobs: encode job")
	}
	return data, nil
}

func decodeJob(data []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return Job{}, eris.Wrap(err, "jobs: decode job")
	}
	if !job.Source.Valid() || job.Source == model.SourceDB {
		return Job{}, eris.Errorf("jobs: unknown source %q", job.Source)
	}
	return job, nil
}
