package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"pairsync/pkg/bus"
)

// Request is what the downstream push/SMS dispatcher consumes. The engine
// only hands these off; rendering and delivery happen elsewhere.
type Request struct {
	UserID    uuid.UUID      `json:"user_id"`
	EventKind string         `json:"event_kind"`
	Payload   map[string]any `json:"payload,omitempty"`
	EmittedAt time.Time      `json:"emitted_at"`
}

// LogNotifier writes notification requests to the log. It backs development
// runs and any deployment without a dispatcher.
type LogNotifier struct {
	logger *log.Logger
}

func NewLog(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, userID uuid.UUID, eventKind string, payload map[string]any) error {
	n.logger.Printf("INFO notify user %s event %s payload %v", userID, eventKind, payload)
	return nil
}

// BusNotifier enqueues notification requests on the notify work queue, one
// subject per recipient. Delivery beyond the queue is the dispatcher's
// problem; callers already treat Notify as best effort.
type BusNotifier struct {
	bus *bus.Bus
}

func NewBus(b *bus.Bus) (*BusNotifier, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	return &BusNotifier{bus: b}, nil
}

func (n *BusNotifier) Notify(ctx context.Context, userID uuid.UUID, eventKind string, payload map[string]any) error {
	req := Request{
		UserID:    userID,
		EventKind: eventKind,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.bus.Publish(ctx, bus.NotifySubject(userID), data)
}
