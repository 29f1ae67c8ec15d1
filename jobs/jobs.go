package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

type Progress struct {
	Total int `json:"total"`
	Done  int `json:"done"`
}

type Job struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Payload   json.RawMessage `json:"-"`
	Status    Status          `json:"status"`
	Progress  Progress        `json:"progress"`
	Warnings  []string        `json:"warnings"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	// Version guards concurrent writes of the same job.
	Version int `json:"-"`
}

var (
	ErrNotFound = errors.New("job not found")
	ErrConflict = errors.New("job was modified concurrently")
)

// StatusStore persists job state so any process can report on it.
type StatusStore interface {
	Get(ctx context.Context, id uuid.UUID) (Job, error)
	// Save writes job if its Version matches the stored one and bumps
	// Version on success.
	Save(ctx context.Context, job *Job) error
}

// Message is what travels through a Queue.
type Message struct {
	JobID uuid.UUID `json:"job_id"`
	Name  string    `json:"name"`
}

type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
	// Receive hands messages to handle until ctx is done.
	Receive(ctx context.Context, handle func(ctx context.Context, msg Message) error) error
}
