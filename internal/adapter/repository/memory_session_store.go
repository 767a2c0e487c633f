package repository

import (
	"context"
	"sync"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
)

type memorySessionStore struct {
	mu    sync.RWMutex
	items map[string]entity.FlagMap
}

// NewMemorySessionStore keeps session window state in process. Tabs of a
// session must then be served by the same instance.
func NewMemorySessionStore() repository.SessionStore {
	return &memorySessionStore{
		items: make(map[string]entity.FlagMap),
	}
}

func (s *memorySessionStore) Load(ctx context.Context, sessionID, key string) (entity.FlagMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, ok := s.items[sessionKey(sessionID, key)]
	if !ok {
		return entity.FlagMap{}, nil
	}
	return flags.Clone(), nil
}

func (s *memorySessionStore) Save(ctx context.Context, sessionID, key string, flags entity.FlagMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[sessionKey(sessionID, key)] = flags.Clone()
	return nil
}

func sessionKey(sessionID, key string) string {
	return "chat:" + sessionID + ":" + key
}
