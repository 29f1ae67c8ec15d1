package testgroup

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// InMemRepo is a Repo for tests. A transaction works on a private copy of
// one assignment's rows that replaces the shared rows on commit.
type InMemRepo struct {
	lock      sync.Mutex
	txLocks   map[int64]*sync.Mutex
	specLocks map[int64]*sync.Mutex
	rows      map[int64]TestGroup
	nextID    int64
	Creates   int
	Updates   int
	Deletes   int
	Commits   int
	Rollbacks int
}

func NewInMemRepo() *InMemRepo {
	return &InMemRepo{
		txLocks:   map[int64]*sync.Mutex{},
		specLocks: map[int64]*sync.Mutex{},
		rows:      map[int64]TestGroup{},
	}
}

// Seed inserts rows directly and returns their ids.
func (r *InMemRepo) Seed(groups ...TestGroup) []int64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	ids := make([]int64, len(groups))
	for i, tg := range groups {
		r.nextID++
		tg.ID = r.nextID
		r.rows[tg.ID] = tg
		ids[i] = tg.ID
	}
	return ids
}

func (r *InMemRepo) lockFor(locks map[int64]*sync.Mutex, assignmentID int64) *sync.Mutex {
	r.lock.Lock()
	defer r.lock.Unlock()
	l, ok := locks[assignmentID]
	if !ok {
		l = &sync.Mutex{}
		locks[assignmentID] = l
	}
	return l
}

func (r *InMemRepo) LockAssignment(ctx context.Context, assignmentID int64) (func(), error) {
	l := r.lockFor(r.specLocks, assignmentID)
	l.Lock()
	return l.Unlock, nil
}

func (r *InMemRepo) InTx(ctx context.Context, assignmentID int64, fn func(tx Tx) error) error {
	l := r.lockFor(r.txLocks, assignmentID)
	l.Lock()
	defer l.Unlock()

	tx := &inMemTx{repo: r, assignmentID: assignmentID, rows: map[int64]TestGroup{}}
	r.lock.Lock()
	for id, tg := range r.rows {
		if tg.AssignmentID == assignmentID {
			tx.rows[id] = tg
		}
	}
	r.lock.Unlock()

	if err := fn(tx); err != nil {
		r.lock.Lock()
		r.Rollbacks++
		r.lock.Unlock()
		return err
	}

	r.lock.Lock()
	defer r.lock.Unlock()
	for id, tg := range r.rows {
		if tg.AssignmentID == assignmentID {
			delete(r.rows, id)
		}
	}
	for id, tg := range tx.rows {
		r.rows[id] = tg
	}
	r.Creates += tx.creates
	r.Updates += tx.updates
	r.Deletes += tx.deletes
	r.Commits++
	return nil
}

func (r *InMemRepo) List(ctx context.Context, assignmentID int64) ([]TestGroup, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	var res []TestGroup
	for _, tg := range r.rows {
		if tg.AssignmentID == assignmentID {
			res = append(res, tg)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

type inMemTx struct {
	repo         *InMemRepo
	assignmentID int64
	rows         map[int64]TestGroup
	creates      int
	updates      int
	deletes      int
}

func (t *inMemTx) Create(ctx context.Context, tg TestGroup) (int64, error) {
	t.repo.lock.Lock()
	t.repo.nextID++
	tg.ID = t.repo.nextID
	t.repo.lock.Unlock()
	t.rows[tg.ID] = tg
	t.creates++
	return tg.ID, nil
}

func (t *inMemTx) Update(ctx context.Context, tg TestGroup) error {
	if _, ok := t.rows[tg.ID]; !ok {
		return fmt.Errorf("test group %d: %w", tg.ID, ErrNotFound)
	}
	t.rows[tg.ID] = tg
	t.updates++
	return nil
}

func (t *inMemTx) DeleteExcept(ctx context.Context, assignmentID int64, keep []int64) (int64, error) {
	var n int64
	for id := range t.rows {
		if !slices.Contains(keep, id) {
			delete(t.rows, id)
			n++
		}
	}
	t.deletes += int(n)
	return n, nil
}
