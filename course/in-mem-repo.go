package course

import (
	"context"
	"slices"
	"sync"
)

// InMemRepo is a Repo for tests and single-process tools.
type InMemRepo struct {
	lock        sync.Mutex
	settings    map[int64]AutotestSetting
	assignments map[int64]Assignment
	criteria    []Criterion
	groupings   []Grouping
	roles       map[int64]Role
	memberships map[[2]int64]bool
}

func NewInMemRepo() *InMemRepo {
	return &InMemRepo{
		settings:    map[int64]AutotestSetting{},
		assignments: map[int64]Assignment{},
		roles:       map[int64]Role{},
		memberships: map[[2]int64]bool{},
	}
}

func (r *InMemRepo) GetAutotestSetting(ctx context.Context, courseID int64) (AutotestSetting, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	s, ok := r.settings[courseID]
	if !ok {
		return AutotestSetting{}, ErrAutotestSettingNotFound()
	}
	return s, nil
}

func (r *InMemRepo) SaveAutotestSetting(ctx context.Context, s AutotestSetting) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.settings[s.CourseID] = s
	return nil
}

func (r *InMemRepo) PutAssignment(a Assignment) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.assignments[a.ID] = a
}

func (r *InMemRepo) GetAssignment(ctx context.Context, assignmentID int64) (Assignment, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return Assignment{}, ErrAssignmentNotFound()
	}
	return a, nil
}

func (r *InMemRepo) SetAutotestSettingsID(ctx context.Context, assignmentID int64, settingsID int64) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	a, ok := r.assignments[assignmentID]
	if !ok {
		return ErrAssignmentNotFound()
	}
	a.AutotestSettingsID = &settingsID
	r.assignments[assignmentID] = a
	return nil
}

func (r *InMemRepo) PutCriterion(c Criterion) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.criteria = append(r.criteria, c)
}

func (r *InMemRepo) ListCriteria(ctx context.Context, assignmentID int64) ([]Criterion, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	var res []Criterion
	for _, c := range r.criteria {
		if c.AssignmentID == assignmentID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (r *InMemRepo) PutGrouping(g Grouping) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.groupings = append(r.groupings, g)
}

func (r *InMemRepo) ListGroupings(ctx context.Context, assignmentID int64, groupIDs []int64) ([]Grouping, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	var res []Grouping
	for _, g := range r.groupings {
		if g.AssignmentID == assignmentID && slices.Contains(groupIDs, g.GroupID) {
			res = append(res, g)
		}
	}
	return res, nil
}

func (r *InMemRepo) PutRole(role Role) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.roles[role.ID] = role
}

func (r *InMemRepo) GetRole(ctx context.Context, roleID int64) (Role, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	role, ok := r.roles[roleID]
	if !ok {
		return Role{}, ErrRoleNotFound()
	}
	return role, nil
}

func (r *InMemRepo) PutMembership(roleID, groupID int64) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.memberships[[2]int64{roleID, groupID}] = true
}

func (r *InMemRepo) IsMember(ctx context.Context, roleID int64, groupID int64) (bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.memberships[[2]int64{roleID, groupID}], nil
}
