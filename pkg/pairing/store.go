package pairing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists pairings. Lookups return (nil, nil) when nothing matches so
// callers can distinguish "absent" from a storage failure.
type Store interface {
	Create(ctx context.Context, p *Pairing) error
	Get(ctx context.Context, id uuid.UUID) (*Pairing, error)
	AcceptedForUser(ctx context.Context, userID uuid.UUID) (*Pairing, error)
	AcceptedBetween(ctx context.Context, a, b uuid.UUID) (*Pairing, error)

	// Transition moves a pending pairing to a resolved status. It fails with
	// ErrAlreadyResolved when the pairing already left pending, which is what
	// makes the lifecycle one-way even under concurrent accept/decline calls.
	Transition(ctx context.Context, id uuid.UUID, to Status, acceptedAt *time.Time) (*Pairing, error)

	// ExpireBefore moves every pending pairing created before cutoff to
	// expired and reports how many were swept.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int, error)

	Delete(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps pairings in process memory. It backs tests and
// single-node deployments that skip Postgres.
type MemoryStore struct {
	mu       sync.RWMutex
	pairings map[uuid.UUID]*Pairing
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pairings: make(map[uuid.UUID]*Pairing)}
}

func (s *MemoryStore) Create(ctx context.Context, p *Pairing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairings[p.ID] = p.clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairings[id].clone(), nil
}

func (s *MemoryStore) AcceptedForUser(ctx context.Context, userID uuid.UUID) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pairings {
		if p.Status == StatusAccepted && p.Member(userID) {
			return p.clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AcceptedBetween(ctx context.Context, a, b uuid.UUID) (*Pairing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.pairings {
		if p.Status == StatusAccepted && p.Member(a) && p.Member(b) {
			return p.clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Transition(ctx context.Context, id uuid.UUID, to Status, acceptedAt *time.Time) (*Pairing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pairings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPending {
		return nil, ErrAlreadyResolved
	}

	p.Status = to
	p.AcceptedAt = acceptedAt
	return p.clone(), nil
}

func (s *MemoryStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.pairings {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			p.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairings, id)
	return nil
}
