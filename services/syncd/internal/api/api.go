package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"pairsync/pkg/feed"
	"pairsync/pkg/pairing"
	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

// HistoryProvider hands out retrieval links for archived session documents.
type HistoryProvider interface {
	HistoryURL(ctx context.Context, pairingID uuid.UUID, kind string, sessionID uuid.UUID) (string, error)
}

// API wires the pairing service, session engine, presence tracker and feed
// into the HTTP surface.
type API struct {
	pairings *pairing.Service
	engine   *session.Engine
	tracker  *presence.Tracker
	feed     feed.Feed
	history  HistoryProvider
	logger   *log.Logger
}

// New builds the API. history may be nil when no archive bucket is
// configured; the history endpoint then reports the archive as unavailable.
func New(pairings *pairing.Service, engine *session.Engine, tracker *presence.Tracker, f feed.Feed, history HistoryProvider, logger *log.Logger) (*API, error) {
	if pairings == nil {
		return nil, errors.New("pairing service is required")
	}
	if engine == nil {
		return nil, errors.New("session engine is required")
	}
	if tracker == nil {
		return nil, errors.New("presence tracker is required")
	}
	if f == nil {
		return nil, errors.New("feed is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &API{pairings: pairings, engine: engine, tracker: tracker, feed: f, history: history, logger: logger}, nil
}

// Routes constructs the chi router containing all syncd endpoints.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/pairings", a.handleInvite)
		r.Get("/users/{userID}/pairing", a.handleUserPairing)
		r.Get("/pairings/{pairingID}", a.handleGetPairing)
		r.Post("/pairings/{pairingID}/accept", a.handleAccept)
		r.Post("/pairings/{pairingID}/decline", a.handleDecline)
		r.Delete("/pairings/{pairingID}", a.handleUnlink)
		r.Get("/pairings/{pairingID}/events", a.handleEvents)

		r.Post("/sessions/start", a.handleSessionStart)
		r.Get("/sessions", a.handleSessionGet)
		r.Post("/sessions/update", a.handleSessionUpdate)
		r.Post("/sessions/end", a.handleSessionEnd)
		r.Post("/sessions/remind", a.handleSessionRemind)
		r.Get("/sessions/history", a.handleSessionHistory)

		r.Put("/presence", a.handleSetPresence)
		r.Get("/presence", a.handleGetPresence)
	})

	return r
}
