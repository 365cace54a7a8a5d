package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"pairsync/pkg/pairing"
)

const (
	// DefaultMaxStateBytes bounds the marshalled state document so change
	// events stay cheap to transport.
	DefaultMaxStateBytes = 64 * 1024
	// DefaultTimeout bounds one store round trip.
	DefaultTimeout = 5 * time.Second

	// EventSessionStarted is sent to the partner when a session begins.
	EventSessionStarted = "session_started"
	// EventSessionReminder is sent on an explicit RemindPartner call.
	EventSessionReminder = "session_reminder"
)

// PatchFunc derives a new state document from the current one. It must be
// pure: no I/O, no mutation of the input (the engine hands it a copy).
type PatchFunc func(current Document) (Document, error)

// PairingResolver validates pairing membership before any session operation.
type PairingResolver interface {
	Resolve(ctx context.Context, pairingID uuid.UUID) (*pairing.Pairing, error)
}

// ResolverFunc adapts a lookup function into a PairingResolver, letting the
// engine resolve straight from a pairing store.
type ResolverFunc func(ctx context.Context, pairingID uuid.UUID) (*pairing.Pairing, error)

func (f ResolverFunc) Resolve(ctx context.Context, pairingID uuid.UUID) (*pairing.Pairing, error) {
	return f(ctx, pairingID)
}

// Feed carries committed change events to subscribers with at-least-once
// delivery, ordered per (pairing, kind) slot.
type Feed interface {
	PublishChange(ctx context.Context, ev ChangeEvent) error
	SubscribeChanges(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, ChangeEvent) error) (io.Closer, error)
}

// Notifier alerts a user through an out-of-band channel (push/SMS). Delivery
// is wholly external; the engine only logs failures.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, eventKind string, payload map[string]any) error
}

// Archiver receives the final document of an ended session, best-effort.
type Archiver interface {
	Archive(ctx context.Context, s *Session) error
}

// Options tunes an Engine. Zero values fall back to defaults; Notifier and
// Archiver are optional.
type Options struct {
	Notifier      Notifier
	Archiver      Archiver
	Logger        *log.Logger
	MaxStateBytes int
	Timeout       time.Duration
}

// Engine owns the session lifecycle: create, read, version-checked update,
// end. Every committed mutation is published to the feed exactly once, and
// per-slot publishes happen in version order.
type Engine struct {
	store    Store
	pairings PairingResolver
	feed     Feed
	notifier Notifier
	archiver Archiver
	logger   *log.Logger

	maxStateBytes int
	timeout       time.Duration

	slotMu sync.Mutex
	slots  map[slotKey]*sync.Mutex
}

// NewEngine wires an Engine from its dependencies.
func NewEngine(store Store, pairings PairingResolver, feed Feed, opts Options) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if pairings == nil {
		return nil, errors.New("pairing resolver is required")
	}
	if feed == nil {
		return nil, errors.New("feed is required")
	}

	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxStateBytes <= 0 {
		opts.MaxStateBytes = DefaultMaxStateBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Engine{
		store:         store,
		pairings:      pairings,
		feed:          feed,
		notifier:      opts.Notifier,
		archiver:      opts.Archiver,
		logger:        opts.Logger,
		maxStateBytes: opts.MaxStateBytes,
		timeout:       opts.Timeout,
		slots:         make(map[slotKey]*sync.Mutex),
	}, nil
}

// StartSession begins a new session of the given kind, ending any live
// session of the same kind first (its ended event precedes the new created
// event). The partner is notified best-effort.
func (e *Engine) StartSession(ctx context.Context, callerID, pairingID uuid.UUID, kind string, initial Document) (*Session, error) {
	if kind == "" {
		return nil, errors.New("kind is required")
	}
	p, err := e.membership(ctx, callerID, pairingID)
	if err != nil {
		return nil, err
	}
	if initial == nil {
		initial = Document{}
	}
	if err := e.checkSize(initial); err != nil {
		return nil, err
	}

	unlock := e.lockSlot(pairingID, kind)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	now := time.Now().UTC()

	prev, err := e.store.Delete(opCtx, pairingID, kind)
	if err != nil {
		return nil, e.wrapStoreErr("supersede session", err)
	}
	if prev != nil {
		e.publish(ctx, eventFor(prev, ChangeEnded, now))
		e.archive(ctx, prev)
	}

	s := &Session{
		ID:        uuid.New(),
		PairingID: pairingID,
		Kind:      kind,
		StarterID: callerID,
		State:     CloneDocument(initial),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(opCtx, s); err != nil {
		return nil, e.wrapStoreErr("create session", err)
	}

	sessionsStarted.Inc()
	e.publish(ctx, eventFor(s, ChangeCreated, now))

	if partner, ok := p.Partner(callerID); ok {
		e.notify(ctx, partner, EventSessionStarted, map[string]any{
			"pairing_id": pairingID,
			"session_id": s.ID,
			"kind":       kind,
		})
	}

	return s, nil
}

// GetSession returns the live session for a slot, or (nil, nil) when absent.
// It always reflects the store's committed value; no caching at this layer.
func (e *Engine) GetSession(ctx context.Context, callerID, pairingID uuid.UUID, kind string) (*Session, error) {
	if _, err := e.membership(ctx, callerID, pairingID); err != nil {
		return nil, err
	}

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	s, err := e.store.Get(opCtx, pairingID, kind)
	if err != nil {
		return nil, e.wrapStoreErr("get session", err)
	}
	return s, nil
}

// UpdateSession applies patch to the slot's current state only if its version
// still equals expected, committing the result as expected+1. A moved-on
// version yields a *ConflictError carrying the current committed session so
// the caller can recompute and retry; blind overwrites are impossible.
func (e *Engine) UpdateSession(ctx context.Context, callerID, pairingID uuid.UUID, kind string, expected int64, patch PatchFunc) (*Session, error) {
	if patch == nil {
		return nil, errors.New("patch function is required")
	}
	if _, err := e.membership(ctx, callerID, pairingID); err != nil {
		return nil, err
	}

	unlock := e.lockSlot(pairingID, kind)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cur, err := e.store.Get(opCtx, pairingID, kind)
	if err != nil {
		return nil, e.wrapStoreErr("read session", err)
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if cur.Version != expected {
		versionConflicts.Inc()
		return nil, &ConflictError{Expected: expected, Current: cur}
	}

	next, err := patch(CloneDocument(cur.State))
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}
	if next == nil {
		next = Document{}
	}
	if err := e.checkSize(next); err != nil {
		return nil, err
	}

	updated := cur.Clone()
	updated.State = next
	updated.Version = expected + 1
	updated.UpdatedAt = time.Now().UTC()

	if err := e.store.Update(opCtx, updated, expected); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another process won the race between our read and write.
			current, getErr := e.store.Get(opCtx, pairingID, kind)
			if getErr != nil {
				return nil, e.wrapStoreErr("re-read session", getErr)
			}
			if current == nil {
				return nil, ErrNotFound
			}
			versionConflicts.Inc()
			return nil, &ConflictError{Expected: expected, Current: current}
		}
		return nil, e.wrapStoreErr("write session", err)
	}

	updatesCommitted.Inc()
	e.publish(ctx, eventFor(updated, ChangeUpdated, updated.UpdatedAt))
	return updated, nil
}

// UpdateSessionRetry is the recommended caller-side policy: up to three
// attempts, the patch recomputed against freshly read state each time. The
// final error is still the ConflictError when every attempt loses the race.
func (e *Engine) UpdateSessionRetry(ctx context.Context, callerID, pairingID uuid.UUID, kind string, patch PatchFunc) (*Session, error) {
	cur, err := e.GetSession(ctx, callerID, pairingID, kind)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}

	expected := cur.Version
	var out *Session

	backoff := retry.WithMaxRetries(2, retry.NewConstant(25*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := e.UpdateSession(ctx, callerID, pairingID, kind, expected, patch)
		if err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) && conflict.Current != nil {
				expected = conflict.Current.Version
				return retry.RetryableError(err)
			}
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EndSession removes the slot's live session. Idempotent: ending an absent
// session succeeds without emitting anything.
func (e *Engine) EndSession(ctx context.Context, callerID, pairingID uuid.UUID, kind string) error {
	if _, err := e.membership(ctx, callerID, pairingID); err != nil {
		return err
	}
	return e.endSlot(ctx, pairingID, kind)
}

// EndAllSessions terminates every live session scoped to a pairing. The
// pairing service calls it when a couple unlinks; membership was already
// validated there.
func (e *Engine) EndAllSessions(ctx context.Context, pairingID uuid.UUID) error {
	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	kinds, err := e.store.ListKinds(opCtx, pairingID)
	if err != nil {
		return e.wrapStoreErr("list sessions", err)
	}

	for _, kind := range kinds {
		if err := e.endSlot(ctx, pairingID, kind); err != nil {
			return err
		}
	}
	return nil
}

// RemindPartner re-invokes Notify with a reminder event kind. Dispatch
// failures are logged, never surfaced.
func (e *Engine) RemindPartner(ctx context.Context, callerID, pairingID uuid.UUID, kind string, payload map[string]any) error {
	p, err := e.membership(ctx, callerID, pairingID)
	if err != nil {
		return err
	}

	if payload == nil {
		payload = map[string]any{}
	}
	payload["pairing_id"] = pairingID
	payload["kind"] = kind

	if partner, ok := p.Partner(callerID); ok {
		e.notify(ctx, partner, EventSessionReminder, payload)
	}
	return nil
}

// Subscribe opens a feed of change events for the pairing. The subscription
// runs until ctx is cancelled or the returned closer is closed.
func (e *Engine) Subscribe(ctx context.Context, callerID, pairingID uuid.UUID, fn func(context.Context, ChangeEvent) error) (io.Closer, error) {
	if _, err := e.membership(ctx, callerID, pairingID); err != nil {
		return nil, err
	}
	return e.feed.SubscribeChanges(ctx, pairingID, fn)
}

func (e *Engine) endSlot(ctx context.Context, pairingID uuid.UUID, kind string) error {
	unlock := e.lockSlot(pairingID, kind)
	defer unlock()

	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	deleted, err := e.store.Delete(opCtx, pairingID, kind)
	if err != nil {
		return e.wrapStoreErr("delete session", err)
	}
	if deleted != nil {
		e.publish(ctx, eventFor(deleted, ChangeEnded, time.Now().UTC()))
		e.archive(ctx, deleted)
	}
	return nil
}

func (e *Engine) membership(ctx context.Context, callerID, pairingID uuid.UUID) (*pairing.Pairing, error) {
	opCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p, err := e.pairings.Resolve(opCtx, pairingID)
	if err != nil {
		return nil, e.wrapStoreErr("resolve pairing", err)
	}
	if p == nil || p.Status != pairing.StatusAccepted {
		return nil, ErrNotPaired
	}
	if !p.Member(callerID) {
		return nil, ErrForbidden
	}
	return p, nil
}

// lockSlot serialises commit+publish per (pairing, kind) so events for one
// slot leave this process in version order. Cross-process writers are
// serialised by the store's compare-and-set.
func (e *Engine) lockSlot(pairingID uuid.UUID, kind string) func() {
	key := slotKey{pairingID, kind}

	e.slotMu.Lock()
	mu, ok := e.slots[key]
	if !ok {
		mu = &sync.Mutex{}
		e.slots[key] = mu
	}
	e.slotMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (e *Engine) checkSize(doc Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if len(payload) > e.maxStateBytes {
		return fmt.Errorf("state is %d bytes, limit %d: %w", len(payload), e.maxStateBytes, ErrPayloadTooLarge)
	}
	return nil
}

func (e *Engine) wrapStoreErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// publish emits a committed mutation to the feed. A transport failure cannot
// unwind the commit, so it is logged and counted; subscribers repair the gap
// through Resync.
func (e *Engine) publish(ctx context.Context, ev ChangeEvent) {
	if err := e.feed.PublishChange(ctx, ev); err != nil {
		publishFailures.Inc()
		e.logger.Printf("ERROR publish %s event for pairing %s kind %s v%d: %v",
			ev.Change, ev.PairingID, ev.Kind, ev.Version, err)
		return
	}
	eventsPublished.WithLabelValues(string(ev.Change)).Inc()
}

func (e *Engine) notify(ctx context.Context, userID uuid.UUID, eventKind string, payload map[string]any) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, userID, eventKind, payload); err != nil {
		notifyFailures.Inc()
		e.logger.Printf("WARN notify %s (%s): %v", userID, eventKind, err)
	}
}

func (e *Engine) archive(ctx context.Context, s *Session) {
	if e.archiver == nil {
		return
	}
	if err := e.archiver.Archive(ctx, s); err != nil {
		e.logger.Printf("WARN archive session %s: %v", s.ID, err)
	}
}
