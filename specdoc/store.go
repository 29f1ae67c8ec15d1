package specdoc

import (
	"context"
	"io"
)

// Store keeps one spec document per assignment, outside the database.
type Store interface {
	// Load returns an empty document when none was saved yet.
	Load(ctx context.Context, assignmentID int64) (Document, error)
	// Save replaces the document atomically.
	Save(ctx context.Context, assignmentID int64, doc Document) error
}

// TestFiles are the instructor-uploaded files the autotester downloads
// alongside the spec document.
type TestFiles interface {
	// List returns slash-separated paths relative to the assignment's test
	// file root, sorted.
	List(ctx context.Context, assignmentID int64) ([]string, error)
	Open(ctx context.Context, assignmentID int64, name string) (io.ReadCloser, error)
}
