package specdoc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	settingsFileName = "settings.json"
	filesDirName     = "files"
)

// FileStore lays documents out as <root>/<assignment id>/settings.json with
// test files under <root>/<assignment id>/files.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) assignmentDir(assignmentID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(assignmentID, 10))
}

func (s *FileStore) Load(ctx context.Context, assignmentID int64) (Document, error) {
	data, err := os.ReadFile(filepath.Join(s.assignmentDir(assignmentID), settingsFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Document{}, nil
		}
		return nil, fmt.Errorf("failed to read spec document: %w", err)
	}
	return Parse(data)
}

// Save writes to a temporary file and renames it over the old document.
func (s *FileStore) Save(ctx context.Context, assignmentID int64, doc Document) error {
	dir := s.assignmentDir(assignmentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create spec dir: %w", err)
	}
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal spec document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, settingsFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp spec file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write spec document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close spec document: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, settingsFileName)); err != nil {
		return fmt.Errorf("failed to replace spec document: %w", err)
	}
	return nil
}

func (s *FileStore) List(ctx context.Context, assignmentID int64) ([]string, error) {
	root := filepath.Join(s.assignmentDir(assignmentID), filesDirName)
	var names []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list test files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Open(ctx context.Context, assignmentID int64, name string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("invalid test file name %q", name)
	}
	f, err := os.Open(filepath.Join(s.assignmentDir(assignmentID), filesDirName, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to open test file: %w", err)
	}
	return f, nil
}
