package pairing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// SessionEnder terminates every live session scoped to a pairing. The session
// engine implements it; the indirection keeps this package free of a
// dependency on session internals.
type SessionEnder interface {
	EndAllSessions(ctx context.Context, pairingID uuid.UUID) error
}

// Service owns the pairing lifecycle: invite, accept/decline, expiry, unlink.
type Service struct {
	store    Store
	sessions SessionEnder
	logger   *log.Logger
}

// NewService creates a Service. sessions may be nil when no session engine is
// wired (unlink then skips the cascade); logger may be nil.
func NewService(store Store, sessions SessionEnder, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{store: store, sessions: sessions, logger: logger}, nil
}

// Invite creates a pending pairing from inviter to invitee.
func (s *Service) Invite(ctx context.Context, inviterID, inviteeID uuid.UUID) (*Pairing, error) {
	if inviterID == uuid.Nil || inviteeID == uuid.Nil {
		return nil, errors.New("inviter and invitee are required")
	}
	if inviterID == inviteeID {
		return nil, ErrSelfPairing
	}

	existing, err := s.store.AcceptedBetween(ctx, inviterID, inviteeID)
	if err != nil {
		return nil, fmt.Errorf("check existing pairing: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyPaired
	}

	p := &Pairing{
		ID:        uuid.New(),
		InviterID: inviterID,
		InviteeID: inviteeID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create pairing: %w", err)
	}

	s.logger.Printf("INFO pairing %s invited (%s -> %s)", p.ID, inviterID, inviteeID)
	return p, nil
}

// Accept resolves a pending invite. Only the invitee may accept, and only once.
func (s *Service) Accept(ctx context.Context, callerID, pairingID uuid.UUID) (*Pairing, error) {
	p, err := s.load(ctx, pairingID)
	if err != nil {
		return nil, err
	}
	if p.InviteeID != callerID {
		return nil, ErrNotInvitee
	}

	// The store-level check at transition time closes the window where both
	// users raced a second invite to acceptance; the partial unique index in
	// Postgres is the final arbiter.
	existing, err := s.store.AcceptedBetween(ctx, p.InviterID, p.InviteeID)
	if err != nil {
		return nil, fmt.Errorf("check existing pairing: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyPaired
	}

	now := time.Now().UTC()
	accepted, err := s.store.Transition(ctx, pairingID, StatusAccepted, &now)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("INFO pairing %s accepted", pairingID)
	return accepted, nil
}

// Decline resolves a pending invite negatively. Only the invitee may decline.
func (s *Service) Decline(ctx context.Context, callerID, pairingID uuid.UUID) (*Pairing, error) {
	p, err := s.load(ctx, pairingID)
	if err != nil {
		return nil, err
	}
	if p.InviteeID != callerID {
		return nil, ErrNotInvitee
	}

	declined, err := s.store.Transition(ctx, pairingID, StatusDeclined, nil)
	if err != nil {
		return nil, err
	}

	s.logger.Printf("INFO pairing %s declined", pairingID)
	return declined, nil
}

// ExpirePending sweeps pending invites older than ttl.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration) (int, error) {
	n, err := s.store.ExpireBefore(ctx, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Printf("INFO expired %d pending invites", n)
	}
	return n, nil
}

// Unlink removes a pairing on behalf of a member and ends every session
// scoped to it. Unlinking an absent pairing is not an error. Sessions are
// terminated before the pairing row goes away so a cascade failure leaves the
// pairing intact and the call retryable.
func (s *Service) Unlink(ctx context.Context, callerID, pairingID uuid.UUID) error {
	p, err := s.store.Get(ctx, pairingID)
	if err != nil {
		return err
	}
	if p == nil {
		return nil
	}
	if !p.Member(callerID) {
		return ErrNotMember
	}

	if s.sessions != nil {
		if err := s.sessions.EndAllSessions(ctx, pairingID); err != nil {
			return fmt.Errorf("end sessions for pairing %s: %w", pairingID, err)
		}
	}
	if err := s.store.Delete(ctx, pairingID); err != nil {
		return err
	}

	s.logger.Printf("INFO pairing %s unlinked by %s", pairingID, callerID)
	return nil
}

// Resolve returns the pairing with the given ID, or (nil, nil) when unknown.
// The session engine uses it for membership checks.
func (s *Service) Resolve(ctx context.Context, pairingID uuid.UUID) (*Pairing, error) {
	return s.store.Get(ctx, pairingID)
}

// ResolveForUser returns the accepted pairing a user belongs to, if any.
func (s *Service) ResolveForUser(ctx context.Context, userID uuid.UUID) (*Pairing, error) {
	return s.store.AcceptedForUser(ctx, userID)
}

func (s *Service) load(ctx context.Context, pairingID uuid.UUID) (*Pairing, error) {
	p, err := s.store.Get(ctx, pairingID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}
