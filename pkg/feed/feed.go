package feed

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"pairsync/pkg/bus"
	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

// Feed carries change events and presence updates between the members of a
// pairing. Change delivery is durable and at-least-once; presence delivery
// is fire-and-forget.
type Feed interface {
	PublishChange(ctx context.Context, ev session.ChangeEvent) error
	SubscribeChanges(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, session.ChangeEvent) error) (io.Closer, error)

	PublishPresence(ctx context.Context, rec presence.Record) error
	SubscribePresence(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, presence.Record) error) (io.Closer, error)
}

// NATSFeed routes change events through a JetStream stream and presence
// through core NATS. Every SubscribeChanges call gets its own ephemeral
// consumer starting at new messages, so both members of a pairing (and any
// number of connections per member) each receive every event. Events emitted
// before a subscription opened are recovered by the caller's resync against
// the store, not replayed by the stream.
type NATSFeed struct {
	bus *bus.Bus
}

// NewNATS wires a feed over an existing bus.
func NewNATS(b *bus.Bus) (*NATSFeed, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	return &NATSFeed{bus: b}, nil
}

func (f *NATSFeed) PublishChange(ctx context.Context, ev session.ChangeEvent) error {
	data, err := encodePayload(ev)
	if err != nil {
		return err
	}
	return f.bus.Publish(ctx, bus.ChangeSubject(ev.PairingID), data)
}

func (f *NATSFeed) SubscribeChanges(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, session.ChangeEvent) error) (io.Closer, error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	return f.bus.Subscribe(ctx, bus.ChangeSubject(pairingID), "",
		func(ctx context.Context, data []byte) error {
			var ev session.ChangeEvent
			if err := decodePayload(data, &ev); err != nil {
				// A payload that cannot decode never will; acking drops it.
				return nil
			}
			return fn(ctx, ev)
		})
}

func (f *NATSFeed) PublishPresence(ctx context.Context, rec presence.Record) error {
	data, err := encodePayload(rec)
	if err != nil {
		return err
	}
	return f.bus.PublishEphemeral(bus.PresenceSubject(rec.PairingID), data)
}

func (f *NATSFeed) SubscribePresence(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, presence.Record) error) (io.Closer, error) {
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	return f.bus.SubscribeEphemeral(ctx, bus.PresenceSubject(pairingID),
		func(ctx context.Context, data []byte) error {
			var rec presence.Record
			if err := decodePayload(data, &rec); err != nil {
				return nil
			}
			return fn(ctx, rec)
		})
}
