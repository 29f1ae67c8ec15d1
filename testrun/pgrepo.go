package testrun

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/programme-lv/autotest/logger"
)

type pgLedger struct {
	pool *pgxpool.Pool
}

func NewPgLedger(pool *pgxpool.Pool) *pgLedger {
	return &pgLedger{pool: pool}
}

const selectRuns = `
	SELECT tr.id, tr.role_id, tr.test_batch_id, tr.grouping_id, g.assignment_id,
		tr.submission_id, tr.revision_identifier, tr.autotest_test_id, tr.status,
		tr.results, tr.problems, tr.created_at, tr.updated_at
	FROM test_runs tr
	JOIN groupings g ON g.id = tr.grouping_id
`

func scanRun(row pgx.CollectableRow) (TestRun, error) {
	var r TestRun
	err := row.Scan(&r.ID, &r.RoleID, &r.TestBatchID, &r.GroupingID, &r.AssignmentID,
		&r.SubmissionID, &r.RevisionIdentifier, &r.AutotestTestID, &r.Status,
		&r.Results, &r.Problems, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (l *pgLedger) queryRuns(ctx context.Context, where string, args ...any) ([]TestRun, error) {
	rows, err := l.pool.Query(ctx, selectRuns+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("failed to scan test runs: %w", err)
	}
	return runs, nil
}

func (l *pgLedger) queryRun(ctx context.Context, where string, args ...any) (TestRun, error) {
	rows, err := l.pool.Query(ctx, selectRuns+where, args...)
	if err != nil {
		return TestRun{}, fmt.Errorf("failed to query test run: %w", err)
	}
	run, err := pgx.CollectOneRow(rows, scanRun)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TestRun{}, ErrNotFound
		}
		return TestRun{}, fmt.Errorf("failed to scan test run: %w", err)
	}
	return run, nil
}

func (l *pgLedger) Create(ctx context.Context, run TestRun) (TestRun, error) {
	err := l.pool.QueryRow(ctx, `
		INSERT INTO test_runs (
			role_id, test_batch_id, grouping_id, submission_id,
			revision_identifier, autotest_test_id, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, run.RoleID, run.TestBatchID, run.GroupingID, run.SubmissionID,
		run.RevisionIdentifier, run.AutotestTestID, run.Status,
	).Scan(&run.ID, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return TestRun{}, fmt.Errorf("failed to insert test run: %w", err)
	}
	logger.FromContext(ctx).Debug("created test run", "test_run_id", run.ID, "autotest_test_id", run.AutotestTestID)
	return run, nil
}

func (l *pgLedger) Get(ctx context.Context, id int64) (TestRun, error) {
	return l.queryRun(ctx, `WHERE tr.id = $1`, id)
}

func (l *pgLedger) FindByRemoteID(ctx context.Context, autotestTestID int64) (TestRun, error) {
	return l.queryRun(ctx, `WHERE tr.autotest_test_id = $1 ORDER BY tr.id DESC LIMIT 1`, autotestTestID)
}

func (l *pgLedger) ListByIDs(ctx context.Context, ids []int64) ([]TestRun, error) {
	return l.queryRuns(ctx, `WHERE tr.id = ANY($1) ORDER BY tr.id`, ids)
}

func (l *pgLedger) ListInProgress(ctx context.Context, assignmentID int64) ([]TestRun, error) {
	return l.queryRuns(ctx, `WHERE g.assignment_id = $1 AND tr.status = $2 ORDER BY tr.id`,
		assignmentID, InProgress)
}

func (l *pgLedger) InProgressAssignments(ctx context.Context) ([]int64, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT DISTINCT g.assignment_id
		FROM test_runs tr
		JOIN groupings g ON g.id = tr.grouping_id
		WHERE tr.status = $1
		ORDER BY g.assignment_id
	`, InProgress)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments with runs in progress: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// Each mutation touches exactly one row, so concurrent updates of different
// runs never contend.

func (l *pgLedger) Cancel(ctx context.Context, id int64) error {
	_, err := l.pool.Exec(ctx, `
		UPDATE test_runs SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, Cancelled, InProgress)
	if err != nil {
		return fmt.Errorf("failed to cancel test run: %w", err)
	}
	return nil
}

func (l *pgLedger) UpdateResults(ctx context.Context, id int64, results map[string]any) error {
	status, problems := StatusFromResults(results)
	return l.exec(ctx, `
		UPDATE test_runs SET status = $2, results = $3, problems = $4, updated_at = NOW()
		WHERE id = $1
	`, id, status, results, problems)
}

func (l *pgLedger) Failure(ctx context.Context, id int64, rawBody string) error {
	return l.exec(ctx, `
		UPDATE test_runs SET status = $2, problems = $3, updated_at = NOW()
		WHERE id = $1
	`, id, Failed, rawBody)
}

func (l *pgLedger) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := l.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update test run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *pgLedger) TestData(ctx context.Context, ids []int64) ([]TestDatum, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT g.group_id, tr.id, r.type
		FROM test_runs tr
		JOIN groupings g ON g.id = tr.grouping_id
		JOIN roles r ON r.id = tr.role_id
		WHERE tr.id = ANY($1)
		ORDER BY tr.id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query test data: %w", err)
	}
	data, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TestDatum, error) {
		var d TestDatum
		if err := row.Scan(&d.GroupID, &d.RunID, &d.RoleType); err != nil {
			return d, err
		}
		d.TestCategories = []string{CategoryForRole(d.RoleType)}
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan test data: %w", err)
	}
	return data, nil
}
