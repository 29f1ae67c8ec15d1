// Package credstore keeps the single service-account credential this
// installation hands to the autotester so it can call back into our API.
package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/programme-lv/autotest/logger"
)

var (
	ErrNotFound  = errors.New("credential not found")
	ErrDuplicate = errors.New("credential already exists")
)

type Credential struct {
	ServiceAccountName string
	APIKey             string
}

type Repo interface {
	Find(ctx context.Context, serviceAccountName string) (Credential, error)
	// Insert returns ErrDuplicate if a credential for the name exists.
	Insert(ctx context.Context, cred Credential) error
	UpdateKey(ctx context.Context, serviceAccountName string, apiKey string) error
}

type Store struct {
	repo       Repo
	name       string
	maxRetries uint64
	interval   time.Duration
}

func NewStore(repo Repo, serviceAccountName string, maxRetries int) *Store {
	return &Store{
		repo:       repo,
		name:       serviceAccountName,
		maxRetries: uint64(maxRetries),
		interval:   50 * time.Millisecond,
	}
}

func (s *Store) ServiceAccountName() string {
	return s.name
}

// GetOrCreate returns the installation credential, creating it on first
// use. Concurrent first-time callers converge on the same row: the losers
// of the insert race look the winner's row up again.
func (s *Store) GetOrCreate(ctx context.Context) (Credential, error) {
	op := func() (Credential, error) {
		cred, err := s.repo.Find(ctx, s.name)
		if err == nil {
			return cred, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Credential{}, backoff.Permanent(err)
		}

		key, err := NewAPIKey()
		if err != nil {
			return Credential{}, backoff.Permanent(err)
		}
		cred = Credential{ServiceAccountName: s.name, APIKey: key}
		err = s.repo.Insert(ctx, cred)
		if errors.Is(err, ErrDuplicate) {
			logger.FromContext(ctx).Debug("lost credential creation race, retrying lookup",
				"service_account", s.name)
			return Credential{}, err
		}
		if err != nil {
			return Credential{}, backoff.Permanent(err)
		}
		logger.FromContext(ctx).Info("created autotest credential", "service_account", s.name)
		return cred, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.interval
	cred, err := backoff.RetryWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(b, s.maxRetries), ctx))
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get or create credential: %w", err)
	}
	return cred, nil
}

// Rotate replaces the api key. The caller must push the new key to every
// autotester afterwards.
func (s *Store) Rotate(ctx context.Context) (Credential, error) {
	if _, err := s.GetOrCreate(ctx); err != nil {
		return Credential{}, err
	}
	key, err := NewAPIKey()
	if err != nil {
		return Credential{}, err
	}
	if err := s.repo.UpdateKey(ctx, s.name, key); err != nil {
		return Credential{}, fmt.Errorf("failed to rotate credential: %w", err)
	}
	logger.FromContext(ctx).Info("rotated autotest credential", "service_account", s.name)
	return Credential{ServiceAccountName: s.name, APIKey: key}, nil
}

func NewAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
