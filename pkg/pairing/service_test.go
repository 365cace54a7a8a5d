package pairing

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingEnder struct {
	ended []uuid.UUID
	err   error
}

func (r *recordingEnder) EndAllSessions(ctx context.Context, pairingID uuid.UUID) error {
	if r.err != nil {
		return r.err
	}
	r.ended = append(r.ended, pairingID)
	return nil
}

func newTestService(t *testing.T, ender SessionEnder) *Service {
	t.Helper()
	svc, err := NewService(NewMemoryStore(), ender, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestInviteAcceptLifecycle(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t, nil)
	alice, bob := uuid.New(), uuid.New()

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if p.Status != StatusPending {
		t.Fatalf("status = %s, want pending", p.Status)
	}

	if _, err := svc.Accept(ctx, alice, p.ID); !errors.Is(err, ErrNotInvitee) {
		t.Fatalf("inviter accept error = %v, want ErrNotInvitee", err)
	}

	accepted, err := svc.Accept(ctx, bob, p.ID)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if accepted.Status != StatusAccepted || accepted.AcceptedAt == nil {
		t.Fatalf("accepted = %+v, want accepted status with timestamp", accepted)
	}

	// Transitions are one-way.
	if _, err := svc.Decline(ctx, bob, p.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("decline after accept error = %v, want ErrAlreadyResolved", err)
	}

	got, err := svc.ResolveForUser(ctx, alice)
	if err != nil || got == nil || got.ID != p.ID {
		t.Fatalf("ResolveForUser = %v, %v; want pairing %s", got, err, p.ID)
	}
}

func TestInviteRejectsSelfAndDuplicates(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t, nil)
	alice, bob := uuid.New(), uuid.New()

	if _, err := svc.Invite(ctx, alice, alice); !errors.Is(err, ErrSelfPairing) {
		t.Fatalf("self invite error = %v, want ErrSelfPairing", err)
	}

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if _, err := svc.Accept(ctx, bob, p.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if _, err := svc.Invite(ctx, bob, alice); !errors.Is(err, ErrAlreadyPaired) {
		t.Fatalf("duplicate invite error = %v, want ErrAlreadyPaired", err)
	}
}

func TestDecline(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t, nil)
	alice, bob := uuid.New(), uuid.New()

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	declined, err := svc.Decline(ctx, bob, p.ID)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if declined.Status != StatusDeclined {
		t.Fatalf("status = %s, want declined", declined.Status)
	}

	// A declined pairing never becomes the user's accepted pairing.
	got, err := svc.ResolveForUser(ctx, bob)
	if err != nil || got != nil {
		t.Fatalf("ResolveForUser after decline = %v, %v; want nil", got, err)
	}
}

func TestExpirePending(t *testing.T) {
	ctx := t.Context()
	svc := newTestService(t, nil)
	alice, bob := uuid.New(), uuid.New()

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}

	n, err := svc.ExpirePending(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("ExpirePending(1h) = %d, %v; want 0 swept", n, err)
	}

	n, err = svc.ExpirePending(ctx, -time.Second)
	if err != nil || n != 1 {
		t.Fatalf("ExpirePending(-1s) = %d, %v; want 1 swept", n, err)
	}

	if _, err := svc.Accept(ctx, bob, p.ID); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("accept after expiry error = %v, want ErrAlreadyResolved", err)
	}
}

func TestUnlinkCascades(t *testing.T) {
	ctx := t.Context()
	ender := &recordingEnder{}
	svc := newTestService(t, ender)
	alice, bob := uuid.New(), uuid.New()

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if _, err := svc.Accept(ctx, bob, p.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if err := svc.Unlink(ctx, uuid.New(), p.ID); !errors.Is(err, ErrNotMember) {
		t.Fatalf("stranger unlink error = %v, want ErrNotMember", err)
	}

	if err := svc.Unlink(ctx, alice, p.ID); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if len(ender.ended) != 1 || ender.ended[0] != p.ID {
		t.Fatalf("cascade ended = %v, want [%s]", ender.ended, p.ID)
	}

	// Idempotent: unlinking again is a no-op.
	if err := svc.Unlink(ctx, alice, p.ID); err != nil {
		t.Fatalf("second Unlink: %v", err)
	}
	if len(ender.ended) != 1 {
		t.Fatalf("cascade ran %d times, want 1", len(ender.ended))
	}
}

func TestUnlinkCascadeFailureKeepsPairing(t *testing.T) {
	ctx := t.Context()
	ender := &recordingEnder{err: errors.New("store down")}
	svc := newTestService(t, ender)
	alice, bob := uuid.New(), uuid.New()

	p, err := svc.Invite(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Invite: %v", err)
	}
	if _, err := svc.Accept(ctx, bob, p.ID); err != nil {
		t.Fatalf("Accept: %v", err)
	}

	if err := svc.Unlink(ctx, alice, p.ID); err == nil {
		t.Fatal("Unlink should surface the cascade failure")
	}

	got, err := svc.Resolve(ctx, p.ID)
	if err != nil || got == nil {
		t.Fatalf("pairing should survive a failed cascade, got %v, %v", got, err)
	}
}
