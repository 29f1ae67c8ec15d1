// Package migrate holds the SQL schema and applies it.
package migrate

import (
	"errors"
	"path/filepath"

	gomigrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // For connection URLs that start with "postgres://".
	_ "github.com/golang-migrate/migrate/v4/source/file"       // For source URLs that start with "file://".
)

func sourceFromDirectory(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return "file://" + abs, nil
}

// Up applies every migration in dir to the database at url.
func Up(dir, url string) error {
	source, err := sourceFromDirectory(dir)
	if err != nil {
		return err
	}
	m, err := gomigrate.New(source, url)
	if err != nil {
		return err
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, gomigrate.ErrNoChange) {
		return err
	}
	return nil
}
