package bftmemstore

import (
	"context"
	"sync"

	"github.com/harbor-bft/harbor/bft/bftcore"
	"github.com/harbor-bft/harbor/bft/bftstore"
)

// ValidatorStore is an in-memory implementation of [bftstore.ValidatorStore].
type ValidatorStore struct {
	mu sync.RWMutex

	byHeight map[uint64][]bftcore.Validator
}

func NewValidatorStore() *ValidatorStore {
	return &ValidatorStore{
		byHeight: make(map[uint64][]bftcore.Validator),
	}
}

func (s *ValidatorStore) SaveValidatorSet(_ context.Context, height uint64, vals []bftcore.Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHeight[height]; ok {
		return bftstore.ValidatorSetOverwriteError{Height: height}
	}

	// Membership only; priorities and liveness are runtime state.
	stored := make([]bftcore.Validator, len(vals))
	for i, v := range vals {
		stored[i] = bftcore.Validator{ID: v.ID, Power: v.Power, Online: true}
	}
	s.byHeight[height] = stored

	return nil
}

func (s *ValidatorStore) LoadValidatorSet(_ context.Context, height uint64) ([]bftcore.Validator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vals, ok := s.byHeight[height]
	if !ok {
		return nil, bftstore.HeightUnknownError{Want: height}
	}

	out := make([]bftcore.Validator, len(vals))
	copy(out, vals)
	return out, nil
}
