package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// ChangeStream retains every committed session mutation, keyed by pairing.
	ChangeStream = "PAIRSYNC"
	// NotifyStream buffers outbound notification requests for the external dispatcher.
	NotifyStream = "PAIRSYNC_NOTIFY"

	pairingSubjectRoot = "pairsync.pairings"
	notifySubjectRoot  = "pairsync.notify"
)

// ChangeSubject returns the per-pairing subject carrying change events.
func ChangeSubject(pairingID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.events", pairingSubjectRoot, pairingID)
}

// PresenceSubject returns the per-pairing subject carrying presence updates.
// Presence travels over core NATS only; it is never written to a stream.
func PresenceSubject(pairingID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.presence", pairingSubjectRoot, pairingID)
}

// NotifySubject returns the per-recipient subject for notification requests.
func NotifySubject(userID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", notifySubjectRoot, userID)
}

// Bus wraps a NATS connection with a JetStream context for durable delivery.
type Bus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// New connects to the provided NATS endpoint.
func New(url string, opts ...nats.Option) (*Bus, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Bus{conn: nc, js: js}, nil
}

// Close drains and shuts down the underlying connection.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

// EnsureStreams creates the streams this service publishes to, if missing.
// Presence subjects are excluded on purpose: presence must not be retained.
func (b *Bus) EnsureStreams(ctx context.Context) error {
	if b == nil {
		return errors.New("nil bus")
	}

	streams := []*nats.StreamConfig{
		{
			Name:      ChangeStream,
			Subjects:  []string{pairingSubjectRoot + ".*.events"},
			Retention: nats.LimitsPolicy,
		},
		{
			Name:      NotifyStream,
			Subjects:  []string{notifySubjectRoot + ".>"},
			Retention: nats.WorkQueuePolicy,
		},
	}

	for _, cfg := range streams {
		_, err := b.js.AddStream(cfg, nats.Context(ctx))
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Publish writes raw bytes to a stream-backed subject.
func (b *Bus) Publish(ctx context.Context, subj string, data []byte) error {
	if b == nil {
		return errors.New("nil bus")
	}
	_, err := b.js.Publish(subj, data, nats.Context(ctx))
	return err
}

// PublishEphemeral writes raw bytes to a subject with no persistence. Nobody
// listening means the update is lost, which is the contract for presence.
func (b *Bus) PublishEphemeral(subj string, data []byte) error {
	if b == nil {
		return errors.New("nil bus")
	}
	return b.conn.Publish(subj, data)
}

type subscription struct {
	sub    *nats.Subscription
	mu     sync.Mutex
	closed bool
}

func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sub.Drain()
}

// Subscribe creates a JetStream consumer on subj and invokes fn for each
// message. fn returning an error naks the message for redelivery, so
// consumers see at-least-once semantics and must apply idempotently.
//
// An empty durable name creates a per-call ephemeral consumer starting at new
// messages, so any number of subscribers can fan out on the same subject and
// each receives every event; the server reaps the consumer when the
// subscription goes away. A durable name resumes across reconnects but admits
// only one active subscription per name.
func (b *Bus) Subscribe(ctx context.Context, subj, durable string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	handler := func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := fn(handlerCtx, msg.Data); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}

	opts := []nats.SubOpt{nats.ManualAck(), nats.AckExplicit()}
	if durable == "" {
		opts = append(opts, nats.DeliverNew())
	} else {
		opts = append(opts, nats.Durable(durable))
	}

	sub, err := b.js.Subscribe(subj, handler, opts...)
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}

// SubscribeEphemeral creates a plain core-NATS subscription on subj. Messages
// arriving while the subscriber is away are simply gone.
func (b *Bus) SubscribeEphemeral(ctx context.Context, subj string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	if b == nil {
		return nil, errors.New("nil bus")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}

	sub, err := b.conn.Subscribe(subj, func(msg *nats.Msg) {
		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		_ = fn(handlerCtx, msg.Data)
	})
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub}

	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	return s, nil
}
