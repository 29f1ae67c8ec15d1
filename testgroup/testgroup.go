// Package testgroup keeps the database view of the test groups declared in
// an assignment's spec document and reconciles the two.
package testgroup

import (
	"context"
	"errors"
)

type DisplayOutput string

const (
	InstructorsOnly            DisplayOutput = "instructors_only"
	InstructorsAndStudentTests DisplayOutput = "instructors_and_student_tests"
	InstructorsAndStudents     DisplayOutput = "instructors_and_students"
)

// DisplayOutputs lists the modes in enum order; the first is the default.
func DisplayOutputs() []DisplayOutput {
	return []DisplayOutput{InstructorsOnly, InstructorsAndStudentTests, InstructorsAndStudents}
}

type TestGroup struct {
	ID            int64
	AssignmentID  int64
	Name          string
	DisplayOutput DisplayOutput
	CriterionID   *int64
}

var ErrNotFound = errors.New("test group not found")

// Tx is the unit of work the reconciler runs in. Everything done through a
// Tx commits or rolls back together.
type Tx interface {
	Create(ctx context.Context, tg TestGroup) (int64, error)
	// Update returns ErrNotFound if no row of the assignment has tg.ID.
	Update(ctx context.Context, tg TestGroup) error
	// DeleteExcept deletes the assignment's groups whose id is not in keep.
	// An empty keep deletes all of them.
	DeleteExcept(ctx context.Context, assignmentID int64, keep []int64) (int64, error)
}

type Repo interface {
	// InTx runs fn serialized against other InTx calls for the same assignment.
	InTx(ctx context.Context, assignmentID int64, fn func(tx Tx) error) error
	// LockAssignment blocks other LockAssignment callers for the same
	// assignment until unlock is called. It is independent of InTx and is
	// held while no transaction is open.
	LockAssignment(ctx context.Context, assignmentID int64) (unlock func(), err error)
	List(ctx context.Context, assignmentID int64) ([]TestGroup, error)
}
