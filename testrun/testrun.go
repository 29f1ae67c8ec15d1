// Package testrun is the ledger of test executions submitted to the
// autotester. Rows are created on submission and afterwards only change
// through Cancel, UpdateResults and Failure, all keyed by row id.
package testrun

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	InProgress Status = "in_progress"
	Complete   Status = "complete"
	Cancelled  Status = "cancelled"
	Failed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Complete || s == Cancelled || s == Failed
}

const (
	CategoryInstructor = "instructor"
	CategoryStudent    = "student"
)

// AllTestCategories is the fixed set of categories a test can be run under.
func AllTestCategories() []string {
	return []string{CategoryInstructor, CategoryStudent}
}

type TestRun struct {
	ID                 int64
	RoleID             int64
	TestBatchID        *int64
	GroupingID         int64
	AssignmentID       int64 // via the grouping
	SubmissionID       *int64
	RevisionIdentifier *string
	AutotestTestID     int64
	Status             Status
	Results            map[string]any
	Problems           *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TestDatum describes a run the way the autotester's callbacks need it.
type TestDatum struct {
	GroupID        int64    `json:"group_id"`
	RunID          int64    `json:"run_id"`
	RoleType       string   `json:"role_type"`
	TestCategories []string `json:"test_categories"`
}

var ErrNotFound = errors.New("test run not found")

type Ledger interface {
	Create(ctx context.Context, run TestRun) (TestRun, error)
	Get(ctx context.Context, id int64) (TestRun, error)
	FindByRemoteID(ctx context.Context, autotestTestID int64) (TestRun, error)
	ListByIDs(ctx context.Context, ids []int64) ([]TestRun, error)
	ListInProgress(ctx context.Context, assignmentID int64) ([]TestRun, error)
	// InProgressAssignments lists assignments with at least one run in progress.
	InProgressAssignments(ctx context.Context) ([]int64, error)
	// Cancel marks an in-progress run cancelled and leaves terminal runs alone.
	Cancel(ctx context.Context, id int64) error
	// UpdateResults stores the results payload, overwriting earlier ones.
	UpdateResults(ctx context.Context, id int64, results map[string]any) error
	// Failure marks the run failed with the raw response body as the reason.
	Failure(ctx context.Context, id int64, rawBody string) error
	TestData(ctx context.Context, ids []int64) ([]TestDatum, error)
}

// StatusFromResults decides the final status of a run from the results
// payload: an "error" entry or status "failed" means the run failed.
func StatusFromResults(results map[string]any) (Status, *string) {
	if msg, ok := results["error"].(string); ok && msg != "" {
		return Failed, &msg
	}
	if s, ok := results["status"].(string); ok && s == string(Failed) {
		return Failed, nil
	}
	return Complete, nil
}

// CategoryForRole maps a role type to the test category it runs under.
func CategoryForRole(roleType string) string {
	if roleType == "Student" {
		return CategoryStudent
	}
	return CategoryInstructor
}
