package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/programme-lv/autotest/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countPayload struct {
	N int `json:"n"`
}

func startRunner(t *testing.T, register func(r *jobs.Runner)) (*jobs.Runner, *jobs.InMemStore) {
	t.Helper()
	store := jobs.NewInMemStore()
	runner := jobs.NewRunner(jobs.NewChanQueue(16), store, 2, slog.Default())
	register(runner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return runner, store
}

func waitFor(t *testing.T, store *jobs.InMemStore, id uuid.UUID, status jobs.Status) jobs.Job {
	t.Helper()
	var job jobs.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = store.Get(context.Background(), id)
		return err == nil && job.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestRunnerReportsProgress(t *testing.T) {
	runner, store := startRunner(t, func(r *jobs.Runner) {
		r.Register("count", func(ctx context.Context, tr *jobs.Tracker, payload json.RawMessage) error {
			var p countPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return err
			}
			if err := tr.SetTotal(ctx, p.N); err != nil {
				return err
			}
			for i := 0; i < p.N; i++ {
				if err := tr.Increment(ctx); err != nil {
					return err
				}
			}
			return tr.Warn(ctx, "counted")
		})
	})

	job, err := runner.Enqueue(context.Background(), "count", countPayload{N: 3})
	require.NoError(t, err)
	assert.Equal(t, jobs.Queued, job.Status)

	done := waitFor(t, store, job.ID, jobs.Succeeded)
	assert.Equal(t, jobs.Progress{Total: 3, Done: 3}, done.Progress)
	assert.Equal(t, []string{"counted"}, done.Warnings)
	assert.Empty(t, done.Error)
}

func TestRunnerRecordsFailure(t *testing.T) {
	runner, store := startRunner(t, func(r *jobs.Runner) {
		r.Register("broken", func(ctx context.Context, tr *jobs.Tracker, payload json.RawMessage) error {
			return errors.New("autotester unreachable")
		})
	})

	job, err := runner.Enqueue(context.Background(), "broken", nil)
	require.NoError(t, err)

	failed := waitFor(t, store, job.ID, jobs.Failed)
	assert.Equal(t, "autotester unreachable", failed.Error)

	got, err := runner.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.Failed, got.Status)
}

func TestEnqueueUnknownJob(t *testing.T) {
	runner := jobs.NewRunner(jobs.NewChanQueue(1), jobs.NewInMemStore(), 1, slog.Default())
	_, err := runner.Enqueue(context.Background(), "missing", nil)
	assert.ErrorContains(t, err, "missing")
}

func TestInMemStoreRejectsStaleVersion(t *testing.T) {
	store := jobs.NewInMemStore()
	ctx := context.Background()
	job := jobs.Job{ID: uuid.New(), Name: "x", Status: jobs.Queued}
	require.NoError(t, store.Save(ctx, &job))
	assert.Equal(t, 1, job.Version)

	stale := job
	job.Status = jobs.Running
	require.NoError(t, store.Save(ctx, &job))

	stale.Status = jobs.Failed
	assert.ErrorIs(t, store.Save(ctx, &stale), jobs.ErrConflict)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.Running, got.Status)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}
