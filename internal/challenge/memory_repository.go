package challenge

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu         sync.Mutex
	challenges map[string]Challenge
}

// NewMemoryRepository builds an in-memory challenge store for testing.
func NewMemoryRepository() Repository {
	return &memoryRepository{challenges: make(map[string]Challenge)}
}

func (r *memoryRepository) Create(_ context.Context, ch Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges[ch.ID] = ch
	return nil
}

func (r *memoryRepository) Consume(_ context.Context, id string, typ Type) (Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.challenges[id]
	if !ok {
		return Challenge{}, ErrNotFound
	}
	delete(r.challenges, id)
	if ch.Type != typ {
		return Challenge{}, ErrNotFound
	}
	return ch, nil
}
