package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/valkey-io/valkey-go"
)

// ValkeyBroadcaster fans session envelopes out through valkey pub/sub so
// tabs connected to different instances stay in sync.
type ValkeyBroadcaster struct {
	client valkey.Client
}

func NewValkeyBroadcaster(client valkey.Client) *ValkeyBroadcaster {
	return &ValkeyBroadcaster{client: client}
}

func channelName(sessionID string) string {
	return "chat:" + sessionID + ":broadcast"
}

func (b *ValkeyBroadcaster) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.client.Do(ctx, b.client.B().Publish().Channel(channelName(env.SessionID)).Message(string(payload)).Build()).Error()
}

func (b *ValkeyBroadcaster) Subscribe(ctx context.Context, sessionID string) (Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	sub := &valkeySubscription{
		ch:      make(chan Envelope, subscriberBuffer),
		cancel:  cancel,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(sub.stopped)
		defer close(sub.ch)

		err := b.client.Receive(subCtx, b.client.B().Subscribe().Channel(channelName(sessionID)).Build(), func(msg valkey.PubSubMessage) {
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Message), &env); err != nil {
				log.Printf("Broadcast: invalid envelope on %s: %v", msg.Channel, err)
				return
			}
			select {
			case sub.ch <- env:
			case <-subCtx.Done():
			default:
				log.Printf("Broadcast: subscriber of session %s is full, dropping %s update", sessionID, env.Channel)
			}
		})
		if err != nil && subCtx.Err() == nil {
			log.Printf("Broadcast: valkey subscription for session %s ended: %v", sessionID, err)
		}
	}()

	return sub, nil
}

type valkeySubscription struct {
	ch        chan Envelope
	cancel    context.CancelFunc
	stopped   chan struct{}
	closeOnce sync.Once
}

func (s *valkeySubscription) Messages() <-chan Envelope {
	return s.ch
}

func (s *valkeySubscription) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.stopped
	})
}
