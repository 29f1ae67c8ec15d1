package jobs

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

type InMemStore struct {
	lock sync.Mutex
	jobs map[uuid.UUID]Job
}

func NewInMemStore() *InMemStore {
	return &InMemStore{jobs: map[uuid.UUID]Job{}}
}

func (s *InMemStore) Get(ctx context.Context, id uuid.UUID) (Job, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	job.Warnings = slices.Clone(job.Warnings)
	return job, nil
}

func (s *InMemStore) Save(ctx context.Context, job *Job) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if cur, ok := s.jobs[job.ID]; ok && cur.Version != job.Version {
		return ErrConflict
	}
	job.Version++
	stored := *job
	stored.Warnings = slices.Clone(job.Warnings)
	s.jobs[job.ID] = stored
	return nil
}

// ChanQueue is an in-process Queue.
type ChanQueue struct {
	ch chan Message
}

func NewChanQueue(size int) *ChanQueue {
	return &ChanQueue{ch: make(chan Message, size)}
}

func (q *ChanQueue) Enqueue(ctx context.Context, msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *ChanQueue) Receive(ctx context.Context, handle func(ctx context.Context, msg Message) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-q.ch:
			if err := handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}
