package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryStoreCAS(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	pairingID := uuid.New()

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New(),
		PairingID: pairingID,
		Kind:      "trivia",
		StarterID: uuid.New(),
		State:     Document{"round": float64(1)},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	next := sess.Clone()
	next.Version = 2
	next.State = Document{"round": float64(2)}
	if err := store.Update(ctx, next, 1); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// A second writer still holding expected=1 must lose.
	stale := sess.Clone()
	stale.Version = 2
	if err := store.Update(ctx, stale, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}

	got, err := store.Get(ctx, pairingID, "trivia")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 || got.State["round"] != float64(2) {
		t.Fatalf("stored session = v%d %v, want v2 round=2", got.Version, got.State)
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("CreatedAt = %v, want preserved %v", got.CreatedAt, now)
	}
}

func TestMemoryStoreCreateOccupiedSlot(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	pairingID := uuid.New()

	first := &Session{ID: uuid.New(), PairingID: pairingID, Kind: "trivia", Version: 1}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The slot is unique per (pairing, kind); a second insert must fail
	// instead of silently replacing the live session.
	second := &Session{ID: uuid.New(), PairingID: pairingID, Kind: "trivia", Version: 1}
	if err := store.Create(ctx, second); err == nil {
		t.Fatal("Create into occupied slot should fail")
	}

	got, err := store.Get(ctx, pairingID, "trivia")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("live session = %s, want the original %s", got.ID, first.ID)
	}

	// A different kind is a different slot.
	if err := store.Create(ctx, &Session{ID: uuid.New(), PairingID: pairingID, Kind: "quiz", Version: 1}); err != nil {
		t.Fatalf("Create other kind: %v", err)
	}
}

func TestMemoryStoreUpdateAbsentSlot(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()

	sess := &Session{ID: uuid.New(), PairingID: uuid.New(), Kind: "trivia", Version: 2}
	if err := store.Update(ctx, sess, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("update on empty slot error = %v, want ErrVersionConflict", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	pairingID := uuid.New()

	if got, err := store.Delete(ctx, pairingID, "trivia"); err != nil || got != nil {
		t.Fatalf("Delete empty slot = %v, %v; want nil, nil", got, err)
	}

	sess := &Session{ID: uuid.New(), PairingID: pairingID, Kind: "trivia", Version: 1}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Delete(ctx, pairingID, "trivia")
	if err != nil || got == nil || got.ID != sess.ID {
		t.Fatalf("Delete = %v, %v; want the live session", got, err)
	}
	if again, err := store.Get(ctx, pairingID, "trivia"); err != nil || again != nil {
		t.Fatalf("Get after delete = %v, %v; want nil, nil", again, err)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	pairingID := uuid.New()

	sess := &Session{
		ID:        uuid.New(),
		PairingID: pairingID,
		Kind:      "trivia",
		State:     Document{"tags": []any{"a"}},
		Version:   1,
	}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Mutating either the original or a read copy must not leak into the store.
	sess.State["tags"].([]any)[0] = "leaked"
	read, _ := store.Get(ctx, pairingID, "trivia")
	read.State["tags"].([]any)[0] = "also leaked"

	got, _ := store.Get(ctx, pairingID, "trivia")
	if got.State["tags"].([]any)[0] != "a" {
		t.Fatalf("stored state = %v, want isolated from caller mutations", got.State)
	}
}

func TestMemoryStoreListKinds(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryStore()
	pairingID, otherID := uuid.New(), uuid.New()

	for _, kind := range []string{"trivia", "quiz"} {
		if err := store.Create(ctx, &Session{ID: uuid.New(), PairingID: pairingID, Kind: kind, Version: 1}); err != nil {
			t.Fatalf("Create %s: %v", kind, err)
		}
	}
	if err := store.Create(ctx, &Session{ID: uuid.New(), PairingID: otherID, Kind: "dare", Version: 1}); err != nil {
		t.Fatalf("Create other pairing: %v", err)
	}

	kinds, err := store.ListKinds(ctx, pairingID)
	if err != nil {
		t.Fatalf("ListKinds: %v", err)
	}
	if len(kinds) != 2 {
		t.Fatalf("kinds = %v, want two for the pairing", kinds)
	}
	for _, k := range kinds {
		if k != "trivia" && k != "quiz" {
			t.Fatalf("unexpected kind %q", k)
		}
	}
}
