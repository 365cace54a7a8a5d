package feed

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"pairsync/pkg/presence"
	"pairsync/pkg/session"
)

const memoryBuffer = 256

// MemoryFeed delivers events in process, for tests and single-node runs.
// Change delivery is asynchronous like the NATS path, so consumers still
// have to tolerate arbitrary interleaving with their own reads.
//
// Publishing never blocks: each subscriber has a bounded buffer and events
// beyond it are dropped. A subscriber that falls behind recovers the missed
// state the same way a reconnecting NATS subscriber does, by resyncing
// against the store.
type MemoryFeed struct {
	mu       sync.RWMutex
	changes  map[uuid.UUID]map[*memorySub[session.ChangeEvent]]struct{}
	presence map[uuid.UUID]map[*memorySub[presence.Record]]struct{}
}

func NewMemory() *MemoryFeed {
	return &MemoryFeed{
		changes:  make(map[uuid.UUID]map[*memorySub[session.ChangeEvent]]struct{}),
		presence: make(map[uuid.UUID]map[*memorySub[presence.Record]]struct{}),
	}
}

type memorySub[T any] struct {
	ch     chan T
	done   chan struct{}
	once   sync.Once
	detach func()
}

func newMemorySub[T any](ctx context.Context, fn func(context.Context, T) error) *memorySub[T] {
	sub := &memorySub[T]{
		ch:   make(chan T, memoryBuffer),
		done: make(chan struct{}),
	}
	go func() {
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.ch:
				_ = fn(ctx, ev)
			}
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

func (s *memorySub[T]) Close() error {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
	return nil
}

// deliver hands ev to the subscriber without ever blocking the publisher.
// A full buffer or a closed subscriber drops the event.
func (s *memorySub[T]) deliver(ev T) {
	select {
	case <-s.done:
	case s.ch <- ev:
	default:
	}
}

func (f *MemoryFeed) PublishChange(ctx context.Context, ev session.ChangeEvent) error {
	f.mu.RLock()
	subs := make([]*memorySub[session.ChangeEvent], 0, len(f.changes[ev.PairingID]))
	for sub := range f.changes[ev.PairingID] {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(ev)
	}
	return nil
}

func (f *MemoryFeed) SubscribeChanges(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, session.ChangeEvent) error) (io.Closer, error) {
	sub := newMemorySub(ctx, fn)
	sub.detach = func() {
		f.mu.Lock()
		delete(f.changes[pairingID], sub)
		f.mu.Unlock()
	}

	f.mu.Lock()
	if f.changes[pairingID] == nil {
		f.changes[pairingID] = make(map[*memorySub[session.ChangeEvent]]struct{})
	}
	f.changes[pairingID][sub] = struct{}{}
	f.mu.Unlock()

	return sub, nil
}

func (f *MemoryFeed) PublishPresence(ctx context.Context, rec presence.Record) error {
	f.mu.RLock()
	subs := make([]*memorySub[presence.Record], 0, len(f.presence[rec.PairingID]))
	for sub := range f.presence[rec.PairingID] {
		subs = append(subs, sub)
	}
	f.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(rec)
	}
	return nil
}

func (f *MemoryFeed) SubscribePresence(ctx context.Context, pairingID uuid.UUID, fn func(context.Context, presence.Record) error) (io.Closer, error) {
	sub := newMemorySub(ctx, fn)
	sub.detach = func() {
		f.mu.Lock()
		delete(f.presence[pairingID], sub)
		f.mu.Unlock()
	}

	f.mu.Lock()
	if f.presence[pairingID] == nil {
		f.presence[pairingID] = make(map[*memorySub[presence.Record]]struct{})
	}
	f.presence[pairingID][sub] = struct{}{}
	f.mu.Unlock()

	return sub, nil
}
