package presence

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestTracker(publish PublishFunc) (*Tracker, *time.Time) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	tr := NewTracker(DefaultTTL, publish, log.New(io.Discard, "", 0))
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTrackerSetAndGet(t *testing.T) {
	var published []Record
	tr, now := newTestTracker(func(ctx context.Context, rec Record) error {
		published = append(published, rec)
		return nil
	})

	pairingID, userID := uuid.New(), uuid.New()
	rec := tr.Set(t.Context(), Record{PairingID: pairingID, UserID: userID, Status: StatusOnline})
	if !rec.LastSeenAt.Equal(*now) {
		t.Fatalf("LastSeenAt = %v, want stamped %v", rec.LastSeenAt, *now)
	}

	got := tr.Get(pairingID, userID)
	if got.Status != StatusOnline {
		t.Fatalf("status = %s, want online", got.Status)
	}
	if len(published) != 1 || published[0].UserID != userID {
		t.Fatalf("published = %+v, want the set record", published)
	}
}

func TestTrackerStalenessDecaysToOffline(t *testing.T) {
	tr, now := newTestTracker(nil)
	pairingID, userID := uuid.New(), uuid.New()

	tr.Set(t.Context(), Record{PairingID: pairingID, UserID: userID, Status: StatusOnline})

	*now = now.Add(DefaultTTL - time.Second)
	if got := tr.Get(pairingID, userID); got.Status != StatusOnline {
		t.Fatalf("status just inside ttl = %s, want online", got.Status)
	}

	*now = now.Add(2 * time.Second)
	got := tr.Get(pairingID, userID)
	if got.Status != StatusOffline {
		t.Fatalf("stale status = %s, want offline", got.Status)
	}
	if got.LastSeenAt.IsZero() {
		t.Fatal("stale read should still report the last seen time")
	}
}

func TestTrackerUnknownMemberIsOffline(t *testing.T) {
	tr, _ := newTestTracker(nil)
	got := tr.Get(uuid.New(), uuid.New())
	if got.Status != StatusOffline || !got.LastSeenAt.IsZero() {
		t.Fatalf("unknown member = %+v, want zero offline record", got)
	}
}

func TestTrackerApplyLastWriterWins(t *testing.T) {
	tr, now := newTestTracker(nil)
	pairingID, userID := uuid.New(), uuid.New()

	newer := Record{PairingID: pairingID, UserID: userID, Status: StatusAway, LastSeenAt: *now}
	older := Record{PairingID: pairingID, UserID: userID, Status: StatusOnline, LastSeenAt: now.Add(-time.Minute)}

	if !tr.Apply(newer) {
		t.Fatal("first apply should be kept")
	}
	if tr.Apply(older) {
		t.Fatal("out-of-order apply should be dropped")
	}
	if got := tr.Get(pairingID, userID); got.Status != StatusAway {
		t.Fatalf("status = %s, want away after stale replay", got.Status)
	}

	// Equal timestamps: the incoming record wins.
	tie := Record{PairingID: pairingID, UserID: userID, Status: StatusOnline, LastSeenAt: *now}
	if !tr.Apply(tie) {
		t.Fatal("tie apply should be kept")
	}
	if got := tr.Get(pairingID, userID); got.Status != StatusOnline {
		t.Fatalf("status = %s, want online after tie", got.Status)
	}
}

func TestTrackerPublishFailureIsSwallowed(t *testing.T) {
	tr, _ := newTestTracker(func(ctx context.Context, rec Record) error {
		return errors.New("bus down")
	})
	pairingID, userID := uuid.New(), uuid.New()

	tr.Set(t.Context(), Record{PairingID: pairingID, UserID: userID, Status: StatusOnline})
	if got := tr.Get(pairingID, userID); got.Status != StatusOnline {
		t.Fatalf("status = %s; local state must survive publish failure", got.Status)
	}
}

func TestTrackerForget(t *testing.T) {
	tr, _ := newTestTracker(nil)
	pairingID, other := uuid.New(), uuid.New()
	userID := uuid.New()

	tr.Set(t.Context(), Record{PairingID: pairingID, UserID: userID, Status: StatusOnline})
	tr.Set(t.Context(), Record{PairingID: other, UserID: userID, Status: StatusOnline})

	tr.Forget(pairingID)
	if got := tr.Get(pairingID, userID); got.Status != StatusOffline {
		t.Fatalf("forgotten pairing status = %s, want offline", got.Status)
	}
	if got := tr.Get(other, userID); got.Status != StatusOnline {
		t.Fatalf("other pairing status = %s, want untouched", got.Status)
	}
}
