package credstore

import (
	"context"
	"sync"
)

type InMemRepo struct {
	lock  sync.Mutex
	creds map[string]Credential
	// Inserts counts successful inserts.
	Inserts int
}

func NewInMemRepo() *InMemRepo {
	return &InMemRepo{creds: map[string]Credential{}}
}

func (r *InMemRepo) Find(ctx context.Context, name string) (Credential, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	cred, ok := r.creds[name]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (r *InMemRepo) Insert(ctx context.Context, cred Credential) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.creds[cred.ServiceAccountName]; ok {
		return ErrDuplicate
	}
	r.creds[cred.ServiceAccountName] = cred
	r.Inserts++
	return nil
}

func (r *InMemRepo) UpdateKey(ctx context.Context, name string, apiKey string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	cred, ok := r.creds[name]
	if !ok {
		return ErrNotFound
	}
	cred.APIKey = apiKey
	r.creds[name] = cred
	return nil
}
