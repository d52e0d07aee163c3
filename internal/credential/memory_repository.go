package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu    sync.Mutex
	creds map[string]Credential
}

// NewMemoryRepository builds an in-memory credential store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{creds: make(map[string]Credential)}
}

func (r *memoryRepository) Create(_ context.Context, cred Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.ID] = cred
	return nil
}

func (r *memoryRepository) FindByID(_ context.Context, id string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return Credential{}, ErrNotFound
	}
	return cred, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID string) ([]Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var creds []Credential
	for _, cred := range r.creds {
		if cred.UserID == userID {
			creds = append(creds, cred)
		}
	}
	sort.Slice(creds, func(i, j int) bool {
		return creds[i].CreatedAt.After(creds[j].CreatedAt)
	})
	return creds, nil
}

func (r *memoryRepository) UpdateCounter(_ context.Context, id string, counter uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok {
		return ErrNotFound
	}
	if counter > cred.Counter {
		cred.Counter = counter
	}
	used := usedAt.UTC()
	cred.LastUsedAt = &used
	r.creds[id] = cred
	return nil
}

func (r *memoryRepository) Rename(_ context.Context, userID, id, name string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok || cred.UserID != userID {
		return Credential{}, ErrNotFound
	}
	cred.AuthenticatorName = name
	r.creds[id] = cred
	return cred, nil
}

func (r *memoryRepository) Delete(_ context.Context, userID, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cred, ok := r.creds[id]
	if !ok || cred.UserID != userID {
		return false, nil
	}
	delete(r.creds, id)
	return true, nil
}
