package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"pairsync/pkg/session"
)

func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		PairingID uuid.UUID        `json:"pairing_id"`
		Kind      string           `json:"kind"`
		State     session.Document `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PairingID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("pairing_id is required"))
		return
	}
	if req.Kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("kind is required"))
		return
	}

	s, err := a.engine.StartSession(r.Context(), caller, req.PairingID, req.Kind, req.State)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"session": s})
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
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
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("kind query parameter is required"))
		return
	}

	s, err := a.engine.GetSession(r.Context(), caller, pairingID, kind)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if s == nil {
		respondError(w, http.StatusNotFound, errors.New("no live session"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": s})
}

func (a *API) handleSessionUpdate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		PairingID       uuid.UUID        `json:"pairing_id"`
		Kind            string           `json:"kind"`
		ExpectedVersion int64            `json:"expected_version"`
		State           session.Document `json:"state"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PairingID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("pairing_id is required"))
		return
	}
	if req.Kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("kind is required"))
		return
	}
	if req.ExpectedVersion < 1 {
		respondError(w, http.StatusBadRequest, errors.New("expected_version must be at least 1"))
		return
	}
	if req.State == nil {
		respondError(w, http.StatusBadRequest, errors.New("state is required"))
		return
	}

	// The client computed the replacement document against the version it
	// claims; the engine's compare-and-set decides whether that still holds.
	s, err := a.engine.UpdateSession(r.Context(), caller, req.PairingID, req.Kind, req.ExpectedVersion,
		func(session.Document) (session.Document, error) {
			return req.State, nil
		})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session": s})
}

func (a *API) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		PairingID uuid.UUID `json:"pairing_id"`
		Kind      string    `json:"kind"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PairingID == uuid.Nil || req.Kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("pairing_id and kind are required"))
		return
	}

	if err := a.engine.EndSession(r.Context(), caller, req.PairingID, req.Kind); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (a *API) handleSessionRemind(w http.ResponseWriter, r *http.Request) {
	caller, err := callerID(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}

	var req struct {
		PairingID uuid.UUID      `json:"pairing_id"`
		Kind      string         `json:"kind"`
		Payload   map[string]any `json:"payload"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.PairingID == uuid.Nil || req.Kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("pairing_id and kind are required"))
		return
	}

	if err := a.engine.RemindPartner(r.Context(), caller, req.PairingID, req.Kind, req.Payload); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (a *API) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
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
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		respondError(w, http.StatusBadRequest, errors.New("kind query parameter is required"))
		return
	}
	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.New("valid session_id query parameter is required"))
		return
	}

	if _, err := a.memberOf(r, caller, pairingID); err != nil {
		respondDomainError(w, err)
		return
	}

	if a.history == nil {
		respondError(w, http.StatusFailedDependency, errors.New("session archive is not configured"))
		return
	}

	u, err := a.history.HistoryURL(r.Context(), pairingID, kind, sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"url": u})
}
