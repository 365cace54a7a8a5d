package pairing

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the lifecycle of an invite. A pairing moves from pending to
// exactly one of the resolved states and never reverses.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusExpired  Status = "expired"
)

// Pairing is a confirmed (or in-flight) link between exactly two users.
// Every synchronized session is scoped to one accepted pairing.
type Pairing struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	InviterID  uuid.UUID  `json:"inviter_id" db:"inviter_id"`
	InviteeID  uuid.UUID  `json:"invitee_id" db:"invitee_id"`
	Status     Status     `json:"status" db:"status"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
}

// Member reports whether userID is one of the two pairing members.
func (p *Pairing) Member(userID uuid.UUID) bool {
	if p == nil {
		return false
	}
	return p.InviterID == userID || p.InviteeID == userID
}

// Partner returns the other member of the pairing.
func (p *Pairing) Partner(userID uuid.UUID) (uuid.UUID, bool) {
	switch {
	case p == nil:
		return uuid.Nil, false
	case p.InviterID == userID:
		return p.InviteeID, true
	case p.InviteeID == userID:
		return p.InviterID, true
	default:
		return uuid.Nil, false
	}
}

func (p *Pairing) clone() *Pairing {
	if p == nil {
		return nil
	}
	cp := *p
	if p.AcceptedAt != nil {
		t := *p.AcceptedAt
		cp.AcceptedAt = &t
	}
	return &cp
}
