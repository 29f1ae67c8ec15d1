package course

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/programme-lv/autotest/logger"
)

type pgCourseRepo struct {
	pool *pgxpool.Pool
}

func NewPgCourseRepo(pool *pgxpool.Pool) *pgCourseRepo {
	return &pgCourseRepo{pool: pool}
}

func (r *pgCourseRepo) GetAutotestSetting(ctx context.Context, courseID int64) (AutotestSetting, error) {
	s := AutotestSetting{CourseID: courseID}
	err := r.pool.QueryRow(ctx, `
		SELECT url, api_key FROM autotest_settings WHERE course_id = $1
	`, courseID).Scan(&s.URL, &s.APIKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AutotestSetting{}, ErrAutotestSettingNotFound().SetDebug(err)
		}
		return AutotestSetting{}, fmt.Errorf("failed to query autotest setting: %w", err)
	}
	return s, nil
}

func (r *pgCourseRepo) SaveAutotestSetting(ctx context.Context, s AutotestSetting) error {
	logger.FromContext(ctx).Debug("saving autotest setting", "course_id", s.CourseID, "url", s.URL)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO autotest_settings (course_id, url, api_key) VALUES ($1, $2, $3)
		ON CONFLICT (course_id) DO UPDATE SET
			url = EXCLUDED.url,
			api_key = EXCLUDED.api_key
	`, s.CourseID, s.URL, s.APIKey)
	if err != nil {
		return fmt.Errorf("failed to upsert autotest setting: %w", err)
	}
	return nil
}

func (r *pgCourseRepo) GetAssignment(ctx context.Context, assignmentID int64) (Assignment, error) {
	a := Assignment{ID: assignmentID}
	err := r.pool.QueryRow(ctx, `
		SELECT course_id, short_identifier, autotest_settings_id
		FROM assignments
		WHERE id = $1
	`, assignmentID).Scan(&a.CourseID, &a.ShortIdentifier, &a.AutotestSettingsID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrAssignmentNotFound().SetDebug(err)
		}
		return Assignment{}, fmt.Errorf("failed to query assignment: %w", err)
	}
	return a, nil
}

func (r *pgCourseRepo) SetAutotestSettingsID(ctx context.Context, assignmentID int64, settingsID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE assignments SET autotest_settings_id = $2 WHERE id = $1
	`, assignmentID, settingsID)
	if err != nil {
		return fmt.Errorf("failed to update autotest settings id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssignmentNotFound()
	}
	return nil
}

func (r *pgCourseRepo) ListCriteria(ctx context.Context, assignmentID int64) ([]Criterion, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, assignment_id, type, name
		FROM criteria
		WHERE assignment_id = $1 AND ta_visible
		ORDER BY id
	`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query criteria: %w", err)
	}
	criteria, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Criterion, error) {
		var c Criterion
		err := row.Scan(&c.ID, &c.AssignmentID, &c.Type, &c.Name)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan criteria: %w", err)
	}
	return criteria, nil
}

func (r *pgCourseRepo) ListGroupings(ctx context.Context, assignmentID int64, groupIDs []int64) ([]Grouping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, assignment_id, current_submission_id
		FROM groupings
		WHERE assignment_id = $1 AND group_id = ANY($2)
		ORDER BY id
	`, assignmentID, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query groupings: %w", err)
	}
	groupings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Grouping, error) {
		var g Grouping
		err := row.Scan(&g.ID, &g.GroupID, &g.AssignmentID, &g.CurrentSubmissionID)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan groupings: %w", err)
	}
	return groupings, nil
}

func (r *pgCourseRepo) GetRole(ctx context.Context, roleID int64) (Role, error) {
	role := Role{ID: roleID}
	err := r.pool.QueryRow(ctx, `SELECT type FROM roles WHERE id = $1`, roleID).Scan(&role.Type)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound().SetDebug(err)
		}
		return Role{}, fmt.Errorf("failed to query role: %w", err)
	}
	return role, nil
}

func (r *pgCourseRepo) IsMember(ctx context.Context, roleID int64, groupID int64) (bool, error) {
	var member bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM memberships WHERE role_id = $1 AND group_id = $2)
	`, roleID, groupID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return member, nil
}
