package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

const sseHeartbeat = 25 * time.Second

type sseFrame struct {
	event string
	data  any
}

// handleEvents streams the pairing's change events and presence updates as
// server-sent events. Browsers use this; native clients subscribe to the
// feed directly.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan sseFrame, 64)
	push := func(frame sseFrame) {
		select {
		case frames <- frame:
		case <-ctx.Done():
		}
	}

	// Subscribe validates membership before anything is written.
	changeSub, err := a.engine.Subscribe(ctx, caller, pairingID, func(ctx context.Context, ev session.ChangeEvent) error {
		push(sseFrame{event: "change", data: ev})
		return nil
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer changeSub.Close()

	presenceSub, err := a.feed.SubscribePresence(ctx, pairingID, func(ctx context.Context, rec presence.Record) error {
		push(sseFrame{event: "presence", data: rec})
		return nil
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	defer presenceSub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case frame := <-frames:
			data, err := json.Marshal(frame.data)
			if err != nil {
				a.logger.Printf("ERROR marshal sse %s frame: %v", frame.event, err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.event, data)
			flusher.Flush()
		}
	}
}
