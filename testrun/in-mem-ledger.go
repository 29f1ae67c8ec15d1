package testrun

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// InMemLedger is a Ledger for tests. GroupIDs (grouping id -> group id) and
// RoleTypes (role id -> type) feed TestData.
type InMemLedger struct {
	lock      sync.Mutex
	runs      map[int64]TestRun
	nextID    int64
	GroupIDs  map[int64]int64
	RoleTypes map[int64]string
}

func NewInMemLedger() *InMemLedger {
	return &InMemLedger{
		runs:      map[int64]TestRun{},
		GroupIDs:  map[int64]int64{},
		RoleTypes: map[int64]string{},
	}
}

func (l *InMemLedger) Create(ctx context.Context, run TestRun) (TestRun, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.nextID++
	run.ID = l.nextID
	run.CreatedAt = time.Now()
	run.UpdatedAt = run.CreatedAt
	l.runs[run.ID] = run
	return run, nil
}

func (l *InMemLedger) Get(ctx context.Context, id int64) (TestRun, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return TestRun{}, ErrNotFound
	}
	return run, nil
}

func (l *InMemLedger) FindByRemoteID(ctx context.Context, autotestTestID int64) (TestRun, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	var found *TestRun
	for _, run := range l.runs {
		if run.AutotestTestID == autotestTestID && (found == nil || run.ID > found.ID) {
			r := run
			found = &r
		}
	}
	if found == nil {
		return TestRun{}, ErrNotFound
	}
	return *found, nil
}

func (l *InMemLedger) filter(keep func(TestRun) bool) []TestRun {
	l.lock.Lock()
	defer l.lock.Unlock()
	var res []TestRun
	for _, run := range l.runs {
		if keep(run) {
			res = append(res, run)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (l *InMemLedger) ListByIDs(ctx context.Context, ids []int64) ([]TestRun, error) {
	return l.filter(func(r TestRun) bool { return slices.Contains(ids, r.ID) }), nil
}

func (l *InMemLedger) ListInProgress(ctx context.Context, assignmentID int64) ([]TestRun, error) {
	return l.filter(func(r TestRun) bool {
		return r.AssignmentID == assignmentID && r.Status == InProgress
	}), nil
}

func (l *InMemLedger) InProgressAssignments(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, r := range l.filter(func(r TestRun) bool { return r.Status == InProgress }) {
		if !slices.Contains(ids, r.AssignmentID) {
			ids = append(ids, r.AssignmentID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// All returns every run ordered by id.
func (l *InMemLedger) All() []TestRun {
	return l.filter(func(TestRun) bool { return true })
}

func (l *InMemLedger) mutate(id int64, fn func(*TestRun)) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	run, ok := l.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(&run)
	run.UpdatedAt = time.Now()
	l.runs[id] = run
	return nil
}

func (l *InMemLedger) Cancel(ctx context.Context, id int64) error {
	err := l.mutate(id, func(r *TestRun) {
		if r.Status == InProgress {
			r.Status = Cancelled
		}
	})
	if err == ErrNotFound {
		return nil
	}
	return err
}

func (l *InMemLedger) UpdateResults(ctx context.Context, id int64, results map[string]any) error {
	return l.mutate(id, func(r *TestRun) {
		r.Status, r.Problems = StatusFromResults(results)
		r.Results = results
	})
}

func (l *InMemLedger) Failure(ctx context.Context, id int64, rawBody string) error {
	return l.mutate(id, func(r *TestRun) {
		r.Status = Failed
		r.Problems = &rawBody
	})
}

func (l *InMemLedger) TestData(ctx context.Context, ids []int64) ([]TestDatum, error) {
	runs, _ := l.ListByIDs(ctx, ids)
	l.lock.Lock()
	defer l.lock.Unlock()
	data := make([]TestDatum, 0, len(runs))
	for _, r := range runs {
		roleType := l.RoleTypes[r.RoleID]
		data = append(data, TestDatum{
			GroupID:        l.GroupIDs[r.GroupingID],
			RunID:          r.ID,
			RoleType:       roleType,
			TestCategories: []string{CategoryForRole(roleType)},
		})
	}
	return data, nil
}
