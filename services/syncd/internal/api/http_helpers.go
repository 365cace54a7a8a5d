package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pairsync/pkg/pairing"
	"pairsync/pkg/session"
)

// callerHeader carries the authenticated user's ID, injected by the gateway
// in front of this service.
const callerHeader = "X-User-ID"

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(callerHeader)
	if raw == "" {
		return uuid.Nil, errors.New("missing " + callerHeader + " header")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid " + callerHeader + " header")
	}
	return id, nil
}

func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// respondDomainError maps service errors onto HTTP statuses. Version
// conflicts carry the current committed session so clients can recompute
// without another round trip.
func respondDomainError(w http.ResponseWriter, err error) {
	var conflict *session.ConflictError
	if errors.As(err, &conflict) {
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":            "version conflict",
			"expected_version": conflict.Expected,
			"current":          conflict.Current,
		})
		return
	}

	switch {
	case errors.Is(err, session.ErrNotPaired),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, pairing.ErrNotFound):
		respondError(w, http.StatusNotFound, err)
	case errors.Is(err, session.ErrForbidden),
		errors.Is(err, pairing.ErrNotInvitee),
		errors.Is(err, pairing.ErrNotMember):
		respondError(w, http.StatusForbidden, err)
	case errors.Is(err, session.ErrVersionConflict),
		errors.Is(err, pairing.ErrAlreadyPaired),
		errors.Is(err, pairing.ErrAlreadyResolved),
		errors.Is(err, pairing.ErrSelfPairing):
		respondError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrPayloadTooLarge):
		respondError(w, http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, session.ErrTimeout):
		respondError(w, http.StatusGatewayTimeout, err)
	default:
		respondError(w, http.StatusInternalServerError, err)
	}
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.New("invalid " + param)
	}
	return id, nil
}
