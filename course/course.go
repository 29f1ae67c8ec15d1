// Package course holds the slice of the course model the autotest
// integration needs: per-course autotester settings, assignments, scoring
// criteria, groupings and roles.
package course

import (
	"context"
	"net/http"

	"github.com/programme-lv/autotest/srvcerror"
)

// AutotestSetting identifies which autotester instance serves a course.
type AutotestSetting struct {
	CourseID int64
	URL      string
	APIKey   string
}

type Assignment struct {
	ID              int64
	CourseID        int64
	ShortIdentifier string
	// AutotestSettingsID is the remote handle of the pushed spec document.
	AutotestSettingsID *int64
}

type Criterion struct {
	ID           int64
	AssignmentID int64
	Type         string
	Name         string
}

// Identifier is the "type:name" form used in spec documents.
func (c Criterion) Identifier() string {
	return c.Type + ":" + c.Name
}

type Grouping struct {
	ID                  int64
	GroupID             int64
	AssignmentID        int64
	CurrentSubmissionID *int64
}

const (
	RoleStudent    = "Student"
	RoleTa         = "Ta"
	RoleInstructor = "Instructor"
)

type Role struct {
	ID   int64
	Type string
}

func (r Role) IsStudent() bool {
	return r.Type == RoleStudent
}

type Repo interface {
	GetAutotestSetting(ctx context.Context, courseID int64) (AutotestSetting, error)
	SaveAutotestSetting(ctx context.Context, setting AutotestSetting) error
	GetAssignment(ctx context.Context, assignmentID int64) (Assignment, error)
	SetAutotestSettingsID(ctx context.Context, assignmentID int64, settingsID int64) error
	// ListCriteria returns the criteria visible to TAs.
	ListCriteria(ctx context.Context, assignmentID int64) ([]Criterion, error)
	ListGroupings(ctx context.Context, assignmentID int64, groupIDs []int64) ([]Grouping, error)
	GetRole(ctx context.Context, roleID int64) (Role, error)
	// IsMember reports whether the role belongs to the group.
	IsMember(ctx context.Context, roleID int64, groupID int64) (bool, error)
}

const ErrCodeAutotestSettingNotFound = "autotest_setting_not_found"

func ErrAutotestSettingNotFound() *srvcerror.Error {
	return srvcerror.New(
		ErrCodeAutotestSettingNotFound,
		"no autotester is configured for this course",
	).SetHttpStatusCode(http.StatusBadRequest)
}

func ErrAssignmentNotFound() *srvcerror.Error {
	return srvcerror.ErrNotFound("assignment")
}

func ErrRoleNotFound() *srvcerror.Error {
	return srvcerror.ErrNotFound("role")
}

func ErrGroupingNotFound() *srvcerror.Error {
	return srvcerror.ErrNotFound("grouping")
}
