// Package groupfiles reads student group files from a directory tree:
//
//	<root>/<grouping id>/REVISION     latest revision identifier
//	<root>/<grouping id>/latest/...   working copy at that revision
//	<root>/<grouping id>/collected/... files of the collected submission
package groupfiles

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrNoRevision = errors.New("grouping has no revision")

type Dir struct {
	root string
}

func NewDir(root string) *Dir {
	return &Dir{root: root}
}

func (d *Dir) groupingDir(groupingID int64) string {
	return filepath.Join(d.root, strconv.FormatInt(groupingID, 10))
}

func (d *Dir) LatestRevision(ctx context.Context, groupingID int64) (string, error) {
	content, err := os.ReadFile(filepath.Join(d.groupingDir(groupingID), "REVISION"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %d", ErrNoRevision, groupingID)
		}
		return "", fmt.Errorf("failed to read revision: %w", err)
	}
	rev := strings.TrimSpace(string(content))
	if rev == "" {
		return "", fmt.Errorf("%w: %d", ErrNoRevision, groupingID)
	}
	return rev, nil
}

// Walk calls fn for every regular file of the grouping with its slash
// separated path. A grouping without files yields nothing.
func (d *Dir) Walk(ctx context.Context, groupingID int64, collected bool, fn func(name string, r io.Reader) error) error {
	sub := "latest"
	if collected {
		sub = "collected"
	}
	root := filepath.Join(d.groupingDir(groupingID), sub)
	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !e.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return fn(filepath.ToSlash(rel), f)
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
