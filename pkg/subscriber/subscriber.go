package subscriber

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairsync/pkg/feed"
	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

// Reader fetches the authoritative session for a slot, used to repair the
// mirror after missed or failed change events.
type Reader interface {
	GetSession(ctx context.Context, callerID, pairingID uuid.UUID, kind string) (*session.Session, error)
}

// Options tunes a Manager.
type Options struct {
	// OnChange, when set, fires after a change event mutates the mirror.
	// It runs on the feed goroutine and must not block.
	OnChange func(ev session.ChangeEvent)

	// PresenceTTL bounds how long the partner's last update counts as
	// fresh. Zero means presence.DefaultTTL.
	PresenceTTL time.Duration

	Logger *log.Logger
}

// Manager mirrors one member's view of a pairing: the live session per kind
// plus the partner's presence. The feed delivers at least once and in commit
// order per slot, so apply is idempotent and replays are dropped.
type Manager struct {
	feed      feed.Feed
	reader    Reader
	pairingID uuid.UUID
	userID    uuid.UUID
	onChange  func(session.ChangeEvent)
	tracker   *presence.Tracker
	logger    *log.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
	ended    map[uuid.UUID]struct{}
	subs     []io.Closer
	opened   bool
	closed   bool
}

// NewManager builds a mirror for userID's view of pairingID. Call Open to
// start consuming the feed.
func NewManager(f feed.Feed, reader Reader, pairingID, userID uuid.UUID, opts Options) (*Manager, error) {
	if f == nil {
		return nil, errors.New("nil feed")
	}
	if reader == nil {
		return nil, errors.New("nil reader")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		feed:      f,
		reader:    reader,
		pairingID: pairingID,
		userID:    userID,
		onChange:  opts.OnChange,
		tracker:   presence.NewTracker(opts.PresenceTTL, nil, logger),
		logger:    logger,
		sessions:  make(map[string]*session.Session),
		ended:     make(map[uuid.UUID]struct{}),
	}, nil
}

// Open subscribes to the pairing's change and presence subjects, then pulls
// an initial resync so the mirror starts from authoritative state rather
// than from whatever events happen to arrive first.
func (m *Manager) Open(ctx context.Context, kinds ...string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("manager closed")
	}
	if m.opened {
		m.mu.Unlock()
		return errors.New("manager already open")
	}
	m.opened = true
	m.mu.Unlock()

	changeSub, err := m.feed.SubscribeChanges(ctx, m.pairingID, func(ctx context.Context, ev session.ChangeEvent) error {
		m.apply(ev)
		return nil
	})
	if err != nil {
		return err
	}

	presenceSub, err := m.feed.SubscribePresence(ctx, m.pairingID, func(ctx context.Context, rec presence.Record) error {
		m.tracker.Apply(rec)
		return nil
	})
	if err != nil {
		_ = changeSub.Close()
		return err
	}

	m.mu.Lock()
	m.subs = append(m.subs, changeSub, presenceSub)
	m.mu.Unlock()

	return m.Resync(ctx, kinds...)
}

// apply folds one change event into the mirror. Events for sessions already
// seen ending are dropped so a replayed created or updated can never
// resurrect a dead session.
func (m *Manager) apply(ev session.ChangeEvent) {
	m.mu.Lock()

	applied := false
	switch ev.Change {
	case session.ChangeEnded:
		m.ended[ev.SessionID] = struct{}{}
		if cur, ok := m.sessions[ev.Kind]; ok && cur.ID == ev.SessionID {
			delete(m.sessions, ev.Kind)
			applied = true
		}
	case session.ChangeCreated, session.ChangeUpdated:
		if _, gone := m.ended[ev.SessionID]; gone {
			break
		}
		cur, ok := m.sessions[ev.Kind]
		if !ok || cur.ID != ev.SessionID || ev.Version >= cur.Version {
			m.sessions[ev.Kind] = ev.Session()
			applied = true
		}
	}

	m.mu.Unlock()

	if applied && m.onChange != nil {
		m.onChange(ev)
	}
}

// Resync replaces the mirror for the given kinds with authoritative reads.
// With no kinds it refreshes every kind currently mirrored. This is the
// repair path for missed events and for a publish that failed server-side.
func (m *Manager) Resync(ctx context.Context, kinds ...string) error {
	if len(kinds) == 0 {
		m.mu.RLock()
		for kind := range m.sessions {
			kinds = append(kinds, kind)
		}
		m.mu.RUnlock()
	}

	for _, kind := range kinds {
		s, err := m.reader.GetSession(ctx, m.userID, m.pairingID, kind)
		if err != nil {
			return err
		}

		m.mu.Lock()
		if s == nil {
			delete(m.sessions, kind)
		} else {
			m.sessions[kind] = s.Clone()
		}
		m.mu.Unlock()
	}
	return nil
}

// Snapshot returns a copy of the mirrored session for a kind, or nil when
// none is live.
func (m *Manager) Snapshot(kind string) *session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[kind].Clone()
}

// Kinds lists the kinds with a mirrored live session.
func (m *Manager) Kinds() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kinds := make([]string, 0, len(m.sessions))
	for kind := range m.sessions {
		kinds = append(kinds, kind)
	}
	return kinds
}

// SetPresence publishes this member's status to the pairing and records it
// locally. Publish failures are logged; presence is lossy by contract.
func (m *Manager) SetPresence(ctx context.Context, status presence.Status) presence.Record {
	rec := presence.Record{
		PairingID:  m.pairingID,
		UserID:     m.userID,
		Status:     status,
		LastSeenAt: time.Now().UTC(),
	}
	m.tracker.Apply(rec)
	if err := m.feed.PublishPresence(ctx, rec); err != nil {
		m.logger.Printf("WARN presence publish failed for pairing %s: %v", m.pairingID, err)
	}
	return rec
}

// Presence reports a member's current status as this mirror sees it.
func (m *Manager) Presence(userID uuid.UUID) presence.Record {
	return m.tracker.Get(m.pairingID, userID)
}

// Close tears down the feed subscriptions. Safe to call more than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	var firstErr error
	for _, sub := range subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
