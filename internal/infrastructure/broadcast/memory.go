package broadcast

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

const subscriberBuffer = 64

// Bus is an in-process Broadcaster. Tabs attached to the same process
// share it; the publisher receives its own envelope too.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*busSubscription
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[string]*busSubscription),
	}
}

func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[env.SessionID] {
		select {
		case sub.ch <- env:
		default:
			log.Printf("Broadcast: subscriber %s of session %s is full, dropping %s update", sub.id, env.SessionID, env.Channel)
		}
	}
	return nil
}

func (b *Bus) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	sub := &busSubscription{
		id:        uuid.New().String(),
		sessionID: sessionID,
		bus:       b,
		ch:        make(chan Envelope, subscriberBuffer),
	}

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[string]*busSubscription)
	}
	b.subs[sessionID][sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

func (b *Bus) remove(sub *busSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.sessionID]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	close(sub.ch)
	if len(subs) == 0 {
		delete(b.subs, sub.sessionID)
	}
}

type busSubscription struct {
	id        string
	sessionID string
	bus       *Bus
	ch        chan Envelope
}

func (s *busSubscription) Messages() <-chan Envelope {
	return s.ch
}

func (s *busSubscription) Close() {
	s.bus.remove(s)
}
