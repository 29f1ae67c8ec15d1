// Package pgtest hands out isolated, fully migrated Postgres databases to
// repository tests.
package pgtest

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/peterldowns/pgtestdb"
	"github.com/peterldowns/pgtestdb/migrators/golangmigrator"
)

// EnvVar must be "1" for Postgres-backed tests to run.
const EnvVar = "AUTOTEST_PG_TESTS"

// NewDB returns a connection pool to a unique and isolated test database,
// fully migrated and ready for testing. It skips the test unless EnvVar is set.
func NewDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv(EnvVar) != "1" {
		t.Skipf("set %s=1 to run against a local postgres", EnvVar)
	}
	ctx := context.Background()
	conf := pgtestdb.Config{
		DriverName: "pgx",
		User:       "proglv", // local dev pg user
		Password:   "proglv", // local dev pg password
		Host:       "localhost",
		Port:       "5433",
		Options:    "sslmode=disable",
	}
	gm := golangmigrator.New(migrationsDir())
	config := pgtestdb.Custom(t, conf, gm)

	pool, err := pgxpool.New(ctx, config.URL())
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
	})

	return pool
}

// Fixture is a course with one assignment, one student role, one TA role and
// two criteria, inserted into a fresh database.
type Fixture struct {
	CourseID     int64
	AssignmentID int64
	StudentRole  int64
	TaRole       int64
	CriterionIDs map[string]int64 // keyed by "type:name"
}

func NewFixture(t *testing.T, pool *pgxpool.Pool) Fixture {
	t.Helper()
	ctx := context.Background()
	f := Fixture{CriterionIDs: map[string]int64{}}

	mustScan(t, pool.QueryRow(ctx, `INSERT INTO courses (name) VALUES ('csc108') RETURNING id`), &f.CourseID)
	mustScan(t, pool.QueryRow(ctx,
		`INSERT INTO assignments (course_id, short_identifier) VALUES ($1, 'a1') RETURNING id`,
		f.CourseID), &f.AssignmentID)
	mustScan(t, pool.QueryRow(ctx,
		`INSERT INTO roles (course_id, type) VALUES ($1, 'Student') RETURNING id`, f.CourseID), &f.StudentRole)
	mustScan(t, pool.QueryRow(ctx,
		`INSERT INTO roles (course_id, type) VALUES ($1, 'Ta') RETURNING id`, f.CourseID), &f.TaRole)

	for _, c := range [][2]string{{"FlexibleCriterion", "style"}, {"CheckboxCriterion", "docs"}} {
		var id int64
		mustScan(t, pool.QueryRow(ctx,
			`INSERT INTO criteria (assignment_id, type, name) VALUES ($1, $2, $3) RETURNING id`,
			f.AssignmentID, c[0], c[1]), &id)
		f.CriterionIDs[c[0]+":"+c[1]] = id
	}
	return f
}

// AddGrouping inserts a group and its grouping for the fixture assignment
// and returns (groupID, groupingID).
func (f Fixture) AddGrouping(t *testing.T, pool *pgxpool.Pool, name string, submissionID *int64) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	var groupID, groupingID int64
	mustScan(t, pool.QueryRow(ctx,
		`INSERT INTO groups (course_id, group_name) VALUES ($1, $2) RETURNING id`, f.CourseID, name), &groupID)
	mustScan(t, pool.QueryRow(ctx,
		`INSERT INTO groupings (group_id, assignment_id, current_submission_id) VALUES ($1, $2, $3) RETURNING id`,
		groupID, f.AssignmentID, submissionID), &groupingID)
	return groupID, groupingID
}

// AddMembership makes the role a member of the group.
func (f Fixture) AddMembership(t *testing.T, pool *pgxpool.Pool, roleID, groupID int64) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO memberships (role_id, group_id) VALUES ($1, $2)`, roleID, groupID)
	if err != nil {
		t.Fatalf("Failed to insert membership: %v", err)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func mustScan(t *testing.T, row scanner, dest ...any) {
	t.Helper()
	if err := row.Scan(dest...); err != nil {
		t.Fatalf("Failed to insert fixture row: %v", err)
	}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "migrate")
}
