package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go"

	"rentalchat/internal/domain/entity"
	"rentalchat/internal/domain/repository"
	"rentalchat/pkg/errors"
)

type valkeySessionStore struct {
	client valkey.Client
	ttl    time.Duration
}

// NewValkeySessionStore persists session window state in valkey so every
// instance serving a tab of the session sees the same value. Keys expire
// ttl after the last write.
func NewValkeySessionStore(client valkey.Client, ttl time.Duration) repository.SessionStore {
	return &valkeySessionStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *valkeySessionStore) Load(ctx context.Context, sessionID, key string) (entity.FlagMap, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(sessionKey(sessionID, key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return entity.FlagMap{}, nil
		}
		return nil, errors.TransientNetwork("load session state", err)
	}

	flags := entity.FlagMap{}
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		return nil, errors.Internal("Failed to parse session state", err)
	}
	return flags, nil
}

func (s *valkeySessionStore) Save(ctx context.Context, sessionID, key string, flags entity.FlagMap) error {
	payload, err := json.Marshal(flags)
	if err != nil {
		return errors.Internal("Failed to encode session state", err)
	}

	set := s.client.B().Set().Key(sessionKey(sessionID, key)).Value(string(payload))
	cmd := set.Build()
	if s.ttl >= time.Second {
		cmd = set.ExSeconds(int64(s.ttl / time.Second)).Build()
	}
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return errors.TransientNetwork("save session state", err)
	}
	return nil
}
