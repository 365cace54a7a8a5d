package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store persists the single live session per (pairing, kind) slot. It is the
// engine's only mutual-exclusion primitive: Update performs a compare-and-set
// on the version column and fails with ErrVersionConflict when the expected
// version no longer matches.
type Store interface {
	// Get returns the live session for a slot, or (nil, nil) when absent.
	Get(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error)

	// Create inserts a new session. The caller sets Version (always 1).
	Create(ctx context.Context, s *Session) error

	// Update writes s only if the stored version still equals expected.
	// s.Version must already be expected+1.
	Update(ctx context.Context, s *Session, expected int64) error

	// Delete removes the slot's live session and returns it, or (nil, nil)
	// when there was none.
	Delete(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error)

	// ListKinds returns the kinds with a live session for the pairing.
	ListKinds(ctx context.Context, pairingID uuid.UUID) ([]string, error)
}

type slotKey struct {
	pairingID uuid.UUID
	kind      string
}

// MemoryStore keeps sessions in process memory with the same CAS semantics
// as the Postgres store. It backs tests and single-node deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[slotKey]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[slotKey]*Session)}
}

func (s *MemoryStore) Get(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[slotKey{pairingID, kind}].Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{sess.PairingID, sess.Kind}
	if _, ok := s.sessions[key]; ok {
		// The Postgres store rejects this through the unique slot index.
		return fmt.Errorf("session slot %s/%s already occupied", sess.PairingID, sess.Kind)
	}
	s.sessions[key] = sess.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, sess *Session, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{sess.PairingID, sess.Kind}
	cur, ok := s.sessions[key]
	if !ok || cur.Version != expected {
		return ErrVersionConflict
	}

	next := sess.Clone()
	next.CreatedAt = cur.CreatedAt
	s.sessions[key] = next
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, pairingID uuid.UUID, kind string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := slotKey{pairingID, kind}
	cur, ok := s.sessions[key]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, key)
	return cur, nil
}

func (s *MemoryStore) ListKinds(ctx context.Context, pairingID uuid.UUID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var kinds []string
	for key := range s.sessions {
		if key.pairingID == pairingID {
			kinds = append(kinds, key.kind)
		}
	}
	return kinds, nil
}
