package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a record counts as fresh. A member whose last
// update is older than this reads as offline regardless of what it said.
const DefaultTTL = 60 * time.Second

// Status is a member's self-reported availability.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record is one presence update for a pairing member. Records carry no
// history: only the newest one per member matters.
type Record struct {
	PairingID  uuid.UUID `json:"pairing_id"`
	UserID     uuid.UUID `json:"user_id"`
	Status     Status    `json:"status"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// PublishFunc fans a record out to the pairing's other subscribers.
// Delivery is best effort; failures are logged and dropped.
type PublishFunc func(ctx context.Context, rec Record) error

type memberKey struct {
	pairingID uuid.UUID
	userID    uuid.UUID
}

// Tracker keeps the latest presence record per pairing member. Records are
// ephemeral: nothing is persisted, and staleness decays reads to offline.
type Tracker struct {
	ttl     time.Duration
	publish PublishFunc
	logger  *log.Logger
	now     func() time.Time

	mu      sync.RWMutex
	records map[memberKey]Record
}

func NewTracker(ttl time.Duration, publish PublishFunc, logger *log.Logger) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		ttl:     ttl,
		publish: publish,
		logger:  logger,
		now:     time.Now,
		records: make(map[memberKey]Record),
	}
}

// Set records a member's own status update and fans it out. A zero
// LastSeenAt is stamped with the current time.
func (t *Tracker) Set(ctx context.Context, rec Record) Record {
	if rec.LastSeenAt.IsZero() {
		rec.LastSeenAt = t.now().UTC()
	}
	t.Apply(rec)

	if t.publish != nil {
		if err := t.publish(ctx, rec); err != nil {
			t.logger.Printf("WARN presence publish failed for pairing %s user %s: %v", rec.PairingID, rec.UserID, err)
		}
	}
	return rec
}

// Apply merges an update, keeping the newer of the stored and incoming
// records. Ties go to the incoming record. Returns whether it was kept,
// so feed consumers can tell replays from fresh updates.
func (t *Tracker) Apply(rec Record) bool {
	key := memberKey{rec.PairingID, rec.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.records[key]; ok && cur.LastSeenAt.After(rec.LastSeenAt) {
		return false
	}
	t.records[key] = rec
	return true
}

// Get returns the member's current presence. Unknown or stale members read
// as offline; staleness never mutates the stored record.
func (t *Tracker) Get(pairingID, userID uuid.UUID) Record {
	t.mu.RLock()
	rec, ok := t.records[memberKey{pairingID, userID}]
	t.mu.RUnlock()

	if !ok || t.now().Sub(rec.LastSeenAt) > t.ttl {
		return Record{PairingID: pairingID, UserID: userID, Status: StatusOffline, LastSeenAt: rec.LastSeenAt}
	}
	return rec
}

// Forget drops every record for a pairing, typically after an unlink.
func (t *Tracker) Forget(pairingID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.records {
		if key.pairingID == pairingID {
			delete(t.records, key)
		}
	}
}
