package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
)

func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		InviteeID uuid.UUID `json:"invitee_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.InviteeID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("invitee_id is required"))
		return
	}

	p, err := a.pairings.Invite(r.Context(), caller, req.InviteeID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"pairing": p})
}

func (a *API) handleUserPairing(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	userID, err := pathUUID(r, "userID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	// A user may only look up their own pairing.
	if userID != caller {
		respondError(w, http.StatusForbidden, errors.New("cannot read another user's pairing"))
		return
	}

	p, err := a.pairings.ResolveForUser(r.Context(), userID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, errors.New("no accepted pairing"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pairing": p})
}

func (a *API) handleGetPairing(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	pairingID, err := pathUUID(r, "pairingID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	p, err := a.pairings.Resolve(r.Context(), pairingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if p == nil || !p.Member(caller) {
		respondError(w, http.StatusNotFound, errors.New("pairing not found"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pairing": p})
}

func (a *API) handleAccept(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	pairingID, err := pathUUID(r, "pairingID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	p, err := a.pairings.Accept(r.Context(), caller, pairingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pairing": p})
}

func (a *API) handleDecline(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	pairingID, err := pathUUID(r, "pairingID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	p, err := a.pairings.Decline(r.Context(), caller, pairingID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pairing": p})
}

func (a *API) handleUnlink(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	pairingID, err := pathUUID(r, "pairingID")
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.pairings.Unlink(r.Context(), caller, pairingID); err != nil {
		respondDomainError(w, err)
		return
	}
	a.tracker.Forget(pairingID)
	respondJSON(w, http.StatusNoContent, nil)
}
