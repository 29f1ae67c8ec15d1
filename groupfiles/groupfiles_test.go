package groupfiles_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/programme-lv/autotest/groupfiles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLatestRevision(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "21", "REVISION"), "abc123\n")
	dir := groupfiles.NewDir(root)

	rev, err := dir.LatestRevision(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, "abc123", rev)

	_, err = dir.LatestRevision(context.Background(), 22)
	assert.ErrorIs(t, err, groupfiles.ErrNoRevision)
}

func TestWalk(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "21", "latest", "main.py"), "print(1)")
	write(t, filepath.Join(root, "21", "collected", "src", "main.py"), "print(2)")
	dir := groupfiles.NewDir(root)

	collect := func(collected bool) map[string]string {
		files := map[string]string{}
		err := dir.Walk(context.Background(), 21, collected, func(name string, r io.Reader) error {
			b, err := io.ReadAll(r)
			files[name] = string(b)
			return err
		})
		require.NoError(t, err)
		return files
	}
	assert.Equal(t, map[string]string{"main.py": "print(1)"}, collect(false))
	assert.Equal(t, map[string]string{"src/main.py": "print(2)"}, collect(true))

	err := dir.Walk(context.Background(), 99, true, func(string, io.Reader) error {
		t.Fatal("unexpected file")
		return nil
	})
	assert.NoError(t, err)
}
