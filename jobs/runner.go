package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/programme-lv/autotest/logger"
	"golang.org/x/sync/errgroup"
)

// Handler does the work of one job. Progress and warnings go through t.
type Handler func(ctx context.Context, t *Tracker, payload json.RawMessage) error

type Runner struct {
	queue    Queue
	store    StatusStore
	workers  int
	lock     sync.RWMutex
	handlers map[string]Handler
	log      *slog.Logger
}

func NewRunner(queue Queue, store StatusStore, workers int, log *slog.Logger) *Runner {
	if workers < 1 {
		workers = 1
	}
	return &Runner{
		queue:    queue,
		store:    store,
		workers:  workers,
		handlers: map[string]Handler{},
		log:      log,
	}
}

func (r *Runner) Register(name string, h Handler) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.handlers[name] = h
}

func (r *Runner) handler(name string) (Handler, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Enqueue stores a queued job and hands it to the queue.
func (r *Runner) Enqueue(ctx context.Context, name string, payload any) (Job, error) {
	if _, ok := r.handler(name); !ok {
		return Job{}, fmt.Errorf("no handler registered for job %q", name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal job payload: %w", err)
	}
	now := time.Now()
	job := Job{
		ID:        uuid.New(),
		Name:      name,
		Payload:   raw,
		Status:    Queued,
		Warnings:  []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Save(ctx, &job); err != nil {
		return Job{}, fmt.Errorf("failed to save job: %w", err)
	}
	if err := r.queue.Enqueue(ctx, Message{JobID: job.ID, Name: name}); err != nil {
		return Job{}, fmt.Errorf("failed to enqueue job: %w", err)
	}
	logger.FromContext(ctx).Info("enqueued job", "job", name, "job_id", job.ID)
	return job, nil
}

func (r *Runner) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	return r.store.Get(ctx, id)
}

// Run consumes the queue with the configured number of workers until ctx
// is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.queue.Receive(ctx, r.process)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) process(ctx context.Context, msg Message) error {
	ctx = logger.WithLogger(ctx, r.log)
	ctx = logger.WithJob(ctx, msg.Name, msg.JobID.String())
	log := logger.FromContext(ctx)

	job, err := r.store.Get(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", msg.JobID, err)
	}
	if job.Status != Queued {
		log.Warn("skipping job that is not queued", "status", job.Status)
		return nil
	}

	t := &Tracker{store: r.store, job: &job}
	if err := t.update(ctx, func(j *Job) { j.Status = Running }); err != nil {
		return err
	}

	h, ok := r.handler(job.Name)
	var runErr error
	if !ok {
		runErr = fmt.Errorf("no handler registered for job %q", job.Name)
	} else {
		runErr = h(ctx, t, job.Payload)
	}

	if runErr != nil {
		log.Error("job failed", "error", runErr)
		return t.update(ctx, func(j *Job) {
			j.Status = Failed
			j.Error = runErr.Error()
		})
	}
	log.Info("job succeeded", "warnings", len(job.Warnings))
	return t.update(ctx, func(j *Job) { j.Status = Succeeded })
}

// Tracker reports progress of the running job.
type Tracker struct {
	lock  sync.Mutex
	store StatusStore
	job   *Job
}

func (t *Tracker) update(ctx context.Context, fn func(*Job)) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	fn(t.job)
	t.job.UpdatedAt = time.Now()
	if err := t.store.Save(ctx, t.job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", t.job.ID, err)
	}
	return nil
}

func (t *Tracker) SetTotal(ctx context.Context, total int) error {
	return t.update(ctx, func(j *Job) { j.Progress.Total = total })
}

func (t *Tracker) Increment(ctx context.Context) error {
	return t.update(ctx, func(j *Job) { j.Progress.Done++ })
}

// Warn attaches a message the user should see and logs it.
func (t *Tracker) Warn(ctx context.Context, msg string) error {
	logger.FromContext(ctx).Warn("job warning", "warning", msg)
	return t.update(ctx, func(j *Job) { j.Warnings = append(j.Warnings, msg) })
}
