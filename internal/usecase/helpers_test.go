package usecase

import (
	"context"
	"sync"
	"time"

	adapterrepo "rentalchat/internal/adapter/repository"
	"rentalchat/internal/domain/entity"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestUsers() *adapterrepo.MemoryUserRepository {
	return adapterrepo.NewMemoryUserRepository(
		entity.User{ID: "alice", FullName: "Alice Host"},
		entity.User{ID: "bob", Username: "bob_renter", ChatActive: map[string]bool{"alice": true}},
		entity.User{ID: "carol", FullName: "Carol Guest", AvatarPath: "avatars/carol.png"},
	)
}

func inbound(id, from string, at time.Time) entity.Message {
	return entity.Message{ID: id, SenderID: from, ReceiverID: "alice", Content: "hi from " + from, CreatedAt: at}
}

type recordingOpener struct {
	mu    sync.Mutex
	peers []string
}

func (o *recordingOpener) OpenWindow(ctx context.Context, peerID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.peers = append(o.peers, peerID)
	return nil
}

func (o *recordingOpener) Opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string{}, o.peers...)
}

type stubAvatars struct {
	url string
	err error
}

func (s stubAvatars) ResolveAvatar(ctx context.Context, ref entity.AvatarRef) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if ref.Kind == entity.AvatarURL {
		return ref.Value, nil
	}
	if ref.Kind == entity.AvatarNone {
		return "", nil
	}
	return s.url + ref.Value, nil
}
