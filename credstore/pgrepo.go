package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

type pgCredRepo struct {
	pool *pgxpool.Pool
}

func NewPgCredRepo(pool *pgxpool.Pool) *pgCredRepo {
	return &pgCredRepo{pool: pool}
}

func (r *pgCredRepo) Find(ctx context.Context, name string) (Credential, error) {
	cred := Credential{ServiceAccountName: name}
	err := r.pool.QueryRow(ctx, `
		SELECT api_key FROM autotest_credentials WHERE service_account_name = $1
	`, name).Scan(&cred.APIKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("failed to query credential: %w", err)
	}
	return cred, nil
}

func (r *pgCredRepo) Insert(ctx context.Context, cred Credential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO autotest_credentials (service_account_name, api_key) VALUES ($1, $2)
	`, cred.ServiceAccountName, cred.APIKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

func (r *pgCredRepo) UpdateKey(ctx context.Context, name string, apiKey string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE autotest_credentials SET api_key = $2, rotated_at = NOW()
		WHERE service_account_name = $1
	`, name, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
