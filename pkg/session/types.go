package session

import (
	"time"

	"github.com/google/uuid"
)

// Document is the opaque state a game or activity keeps inside a session.
// The engine stores and transports it without interpreting any field.
type Document map[string]any

// CloneDocument deep-copies a document so callers can never alias the
// engine's committed state.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Document:
		return map[string]any(CloneDocument(t))
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return t
	}
}

// Session is one live synchronized interaction of a given kind, scoped to an
// accepted pairing. Version increases by exactly one per committed update.
type Session struct {
	ID        uuid.UUID `json:"id" db:"id"`
	PairingID uuid.UUID `json:"pairing_id" db:"pairing_id"`
	Kind      string    `json:"kind" db:"kind"`
	StarterID uuid.UUID `json:"starter_id" db:"starter_id"`
	State     Document  `json:"state" db:"state"`
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.State = CloneDocument(s.State)
	return &cp
}

// ChangeKind classifies a committed session mutation.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeEnded   ChangeKind = "ended"
)

// ChangeEvent is the immutable record of one committed session mutation.
// Exactly one is produced per commit; subscribers may see it any number of
// times and must apply it idempotently.
type ChangeEvent struct {
	SessionID uuid.UUID  `json:"session_id"`
	PairingID uuid.UUID  `json:"pairing_id"`
	Kind      string     `json:"kind"`
	Change    ChangeKind `json:"change"`
	Version   int64      `json:"version"`
	StarterID uuid.UUID  `json:"starter_id"`
	State     Document   `json:"state,omitempty"`
	EmittedAt time.Time  `json:"emitted_at"`
}

// Session materialises the session view carried by the event. Ended events
// return nil: there is nothing live to mirror.
func (ev ChangeEvent) Session() *Session {
	if ev.Change == ChangeEnded {
		return nil
	}
	return &Session{
		ID:        ev.SessionID,
		PairingID: ev.PairingID,
		Kind:      ev.Kind,
		StarterID: ev.StarterID,
		State:     CloneDocument(ev.State),
		Version:   ev.Version,
		UpdatedAt: ev.EmittedAt,
	}
}

func eventFor(s *Session, change ChangeKind, at time.Time) ChangeEvent {
	ev := ChangeEvent{
		SessionID: s.ID,
		PairingID: s.PairingID,
		Kind:      s.Kind,
		Change:    change,
		Version:   s.Version,
		StarterID: s.StarterID,
		EmittedAt: at,
	}
	if change != ChangeEnded {
		ev.State = CloneDocument(s.State)
	}
	return ev
}
