package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"pairsync/pkg/pairing"
	"pairsync/pkg/presence"
)

// memberOf checks that caller belongs to the accepted pairing. Presence is
// scoped exactly like sessions: members only.
func (a *API) memberOf(r *http.Request, caller, pairingID uuid.UUID) (*pairing.Pairing, error) {
	p, err := a.pairings.Resolve(r.Context(), pairingID)
	if err != nil {
		return nil, err
	}
	if p == nil || p.Status != pairing.StatusAccepted {
		return nil, pairing.ErrNotFound
	}
	if !p.Member(caller) {
		return nil, pairing.ErrNotMember
	}
	return p, nil
}

func (a *API) handleSetPresence(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		PairingID uuid.UUID       `json:"pairing_id"`
		Status    presence.Status `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PairingID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("pairing_id is required"))
		return
	}
	switch req.Status {
	case presence.StatusOnline, presence.StatusAway, presence.StatusOffline:
	default:
		respondError(w, http.StatusBadRequest, errors.New("status must be online, away or offline"))
		return
	}

	if _, err := a.memberOf(r, caller, req.PairingID); err != nil {
		respondDomainError(w, err)
		return
	}

	rec := a.tracker.Set(r.Context(), presence.Record{
		PairingID: req.PairingID,
		UserID:    caller,
		Status:    req.Status,
	})
	respondJSON(w, http.StatusOK, map[string]any{"presence": rec})
}

func (a *API) handleGetPresence(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	pairingID, err := uuid.Parse(r.URL.Query().Get("pairing_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid pairing_id query parameter is required"))
		return
	}

	p, err := a.memberOf(r, caller, pairingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Default to the partner's presence; a member may also ask about itself.
	subject, _ := p.Partner(caller)
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		subject, err = uuid.Parse(raw)
		if err != nil || !p.Member(subject) {
			respondError(w, http.StatusBadRequest, errors.New("user_id must be a pairing member"))
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{"presence": a.tracker.Get(pairingID, subject)})
}
