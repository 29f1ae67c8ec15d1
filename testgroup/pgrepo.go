package testgroup

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/programme-lv/autotest/logger"
)

type pgTestGroupRepo struct {
	pool *pgxpool.Pool
}

func NewPgTestGroupRepo(pool *pgxpool.Pool) *pgTestGroupRepo {
	return &pgTestGroupRepo{pool: pool}
}

func (r *pgTestGroupRepo) InTx(ctx context.Context, assignmentID int64, fn func(tx Tx) error) error {
	log := logger.FromContext(ctx)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// concurrent spec pushes for one assignment queue up here
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, assignmentID); err != nil {
		return fmt.Errorf("failed to lock assignment test groups: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		log.Debug("rolling back test group transaction", "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// specLockSpace keeps the session lock apart from the transaction lock
// above: two-key advisory locks never collide with single-key ones.
const specLockSpace = 7207

// LockAssignment takes a session level advisory lock on a dedicated
// connection. The connection goes back to the pool once unlocked.
func (r *pgTestGroupRepo) LockAssignment(ctx context.Context, assignmentID int64) (func(), error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	key := int32(assignmentID % (1 << 31))
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1, $2)`, int32(specLockSpace), key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to lock assignment spec: %w", err)
	}
	return func() {
		_, err := conn.Exec(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1, $2)`, int32(specLockSpace), key)
		if err != nil {
			// the lock dies with the session
			logger.FromContext(ctx).Error("failed to release assignment spec lock", "error", err)
			conn.Hijack().Close(context.WithoutCancel(ctx))
			return
		}
		conn.Release()
	}, nil
}

func (r *pgTestGroupRepo) List(ctx context.Context, assignmentID int64) ([]TestGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, assignment_id, name, display_output, criterion_id
		FROM test_groups
		WHERE assignment_id = $1
		ORDER BY id
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (TestGroup, error) {
		var tg TestGroup
		err := row.Scan(&tg.ID, &tg.AssignmentID, &tg.Name, &tg.DisplayOutput, &tg.CriterionID)
		return tg, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan test groups: %w", err)
	}
	return groups, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Create(ctx context.Context, tg TestGroup) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO test_groups (assignment_id, name, display_output, criterion_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, tg.AssignmentID, tg.Name, tg.DisplayOutput, tg.CriterionID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert test group: %w", err)
	}
	return id, nil
}

func (t *pgTx) Update(ctx context.Context, tg TestGroup) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE test_groups SET name = $3, display_output = $4, criterion_id = $5
		WHERE id = $1 AND assignment_id = $2
	`, tg.ID, tg.AssignmentID, tg.Name, tg.DisplayOutput, tg.CriterionID)
	if err != nil {
		return fmt.Errorf("failed to update test group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("test group %d: %w", tg.ID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteExcept(ctx context.Context, assignmentID int64, keep []int64) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if len(keep) == 0 {
		tag, err = t.tx.Exec(ctx, `DELETE FROM test_groups WHERE assignment_id = $1`, assignmentID)
	} else {
		tag, err = t.tx.Exec(ctx, `
			DELETE FROM test_groups WHERE assignment_id = $1 AND NOT (id = ANY($2))
		`, assignmentID, keep)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete test groups: %w", err)
	}
	return tag.RowsAffected(), nil
}
