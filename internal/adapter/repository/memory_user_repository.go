package repository

import (
	"context"
	"sync"

	"rentalchat/internal/domain/entity"
	"rentalchat/pkg/errors"
)

// MemoryUserRepository keeps user records in process. It serves both the
// profile lookup and the chat-active flags in development mode and tests.
type MemoryUserRepository struct {
	mu      sync.Mutex
	users   map[string]*entity.User
	lookups map[string]int
	failure error
}

func NewMemoryUserRepository(users ...entity.User) *MemoryUserRepository {
	r := &MemoryUserRepository{
		users:   make(map[string]*entity.User),
		lookups: make(map[string]int),
	}
	for _, u := range users {
		r.Put(u)
	}
	return r
}

func (r *MemoryUserRepository) Put(user entity.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = &user
}

// SetFailure makes every call fail with err until cleared with nil.
func (r *MemoryUserRepository) SetFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failure = err
}

// Lookups returns how many times the profile of userID was fetched.
func (r *MemoryUserRepository) Lookups(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookups[userID]
}

// ChatActive returns the flag userID holds for peerID and whether it was set.
func (r *MemoryUserRepository) ChatActive(userID, peerID string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok || u.ChatActive == nil {
		return false, false
	}
	active, ok := u.ChatActive[peerID]
	return active, ok
}

func (r *MemoryUserRepository) GetProfile(ctx context.Context, userID string) (*entity.PeerProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lookups[userID]++
	if r.failure != nil {
		return nil, errors.TransientNetwork("get profile", r.failure)
	}
	u, ok := r.users[userID]
	if !ok {
		return nil, errors.MissingProfile(userID, nil)
	}
	return u.Profile(), nil
}

func (r *MemoryUserRepository) SetChatActive(ctx context.Context, userID, peerID string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failure != nil {
		return errors.TransientNetwork("set chat active", r.failure)
	}
	u, ok := r.users[userID]
	if !ok {
		return errors.NotFound("User", nil)
	}
	if u.ChatActive == nil {
		u.ChatActive = make(map[string]bool)
	}
	u.ChatActive[peerID] = active
	return nil
}
