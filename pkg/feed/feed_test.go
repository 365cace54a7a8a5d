package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

func TestCodecRoundTrip(t *testing.T) {
	ev := session.ChangeEvent{
		SessionID: uuid.New(),
		PairingID: uuid.New(),
		Kind:      "trivia",
		Change:    session.ChangeUpdated,
		Version:   7,
		StarterID: uuid.New(),
		State:     session.Document{"question": "capital of France", "answers": []any{"Paris"}},
		EmittedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	data, err := encodePayload(ev)
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	if bytes.HasPrefix(data, zstdMagic) {
		t.Fatal("small payload should stay plain JSON")
	}

	var got session.ChangeEvent
	if err := decodePayload(data, &got); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if got.SessionID != ev.SessionID || got.Version != ev.Version || got.Change != ev.Change {
		t.Fatalf("round trip = %+v, want %+v", got, ev)
	}
}

func TestCodecCompressesLargePayloads(t *testing.T) {
	ev := session.ChangeEvent{
		SessionID: uuid.New(),
		PairingID: uuid.New(),
		Kind:      "trivia",
		Change:    session.ChangeUpdated,
		Version:   2,
		State:     session.Document{"transcript": strings.Repeat("they said the funniest thing ", 500)},
	}

	plain, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(plain) <= compressThreshold {
		t.Fatalf("fixture too small: %d bytes", len(plain))
	}

	data, err := encodePayload(ev)
	if err != nil {
		t.Fatalf("encodePayload: %v", err)
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		t.Fatal("large payload should be compressed")
	}
	if len(data) >= len(plain) {
		t.Fatalf("compressed %d bytes >= plain %d bytes", len(data), len(plain))
	}

	var got session.ChangeEvent
	if err := decodePayload(data, &got); err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if got.State["transcript"] != ev.State["transcript"] {
		t.Fatal("compressed round trip lost state")
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	var ev session.ChangeEvent
	if err := decodePayload([]byte("not json"), &ev); err == nil {
		t.Fatal("want decode error for garbage input")
	}
	if err := decodePayload(append(append([]byte{}, zstdMagic...), 0xde, 0xad), &ev); err == nil {
		t.Fatal("want decode error for truncated frame")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMemoryFeedChanges(t *testing.T) {
	ctx := t.Context()
	f := NewMemory()
	pairingID := uuid.New()

	var mu sync.Mutex
	var got []session.ChangeEvent
	sub, err := f.SubscribeChanges(ctx, pairingID, func(ctx context.Context, ev session.ChangeEvent) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeChanges: %v", err)
	}

	for v := int64(1); v <= 3; v++ {
		if err := f.PublishChange(ctx, session.ChangeEvent{PairingID: pairingID, Version: v}); err != nil {
			t.Fatalf("PublishChange: %v", err)
		}
	}
	// Another pairing's event must not leak in.
	if err := f.PublishChange(ctx, session.ChangeEvent{PairingID: uuid.New(), Version: 99}); err != nil {
		t.Fatalf("PublishChange other pairing: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})
	mu.Lock()
	for i, ev := range got {
		if ev.Version != int64(i+1) {
			t.Fatalf("event %d version = %d, want in-order delivery", i, ev.Version)
		}
	}
	mu.Unlock()

	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Post-close publishes are dropped without panicking.
	if err := f.PublishChange(ctx, session.ChangeEvent{PairingID: pairingID, Version: 4}); err != nil {
		t.Fatalf("PublishChange after close: %v", err)
	}
}

func TestMemoryFeedFansOutToEverySubscriber(t *testing.T) {
	ctx := t.Context()
	f := NewMemory()
	pairingID := uuid.New()

	// Both members of a pairing subscribe to the same subject. Each must
	// see every event; subscribers never split the stream between them.
	var mu sync.Mutex
	counts := make([]int, 2)
	for i := range counts {
		i := i
		if _, err := f.SubscribeChanges(ctx, pairingID, func(ctx context.Context, ev session.ChangeEvent) error {
			mu.Lock()
			counts[i]++
			mu.Unlock()
			return nil
		}); err != nil {
			t.Fatalf("SubscribeChanges %d: %v", i, err)
		}
	}

	for v := int64(1); v <= 5; v++ {
		if err := f.PublishChange(ctx, session.ChangeEvent{PairingID: pairingID, Version: v}); err != nil {
			t.Fatalf("PublishChange: %v", err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts[0] == 5 && counts[1] == 5
	})
}

func TestMemoryFeedPublishNeverBlocks(t *testing.T) {
	ctx := t.Context()
	f := NewMemory()
	pairingID := uuid.New()

	// A handler that never returns wedges its pump goroutine; the publisher
	// must keep going and shed events once the buffer fills.
	stall := make(chan struct{})
	if _, err := f.SubscribeChanges(ctx, pairingID, func(ctx context.Context, ev session.ChangeEvent) error {
		<-stall
		return nil
	}); err != nil {
		t.Fatalf("SubscribeChanges: %v", err)
	}
	defer close(stall)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := int64(1); v <= memoryBuffer*2; v++ {
			if err := f.PublishChange(ctx, session.ChangeEvent{PairingID: pairingID, Version: v}); err != nil {
				t.Errorf("PublishChange %d: %v", v, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a stalled subscriber")
	}
}

func TestMemoryFeedPresence(t *testing.T) {
	ctx := t.Context()
	f := NewMemory()
	pairingID, userID := uuid.New(), uuid.New()

	var mu sync.Mutex
	var got []presence.Record
	if _, err := f.SubscribePresence(ctx, pairingID, func(ctx context.Context, rec presence.Record) error {
		mu.Lock()
		got = append(got, rec)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("SubscribePresence: %v", err)
	}

	rec := presence.Record{PairingID: pairingID, UserID: userID, Status: presence.StatusAway, LastSeenAt: time.Now().UTC()}
	if err := f.PublishPresence(ctx, rec); err != nil {
		t.Fatalf("PublishPresence: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	if got[0].UserID != userID || got[0].Status != presence.StatusAway {
		t.Fatalf("record = %+v, want the published one", got[0])
	}
	mu.Unlock()
}
