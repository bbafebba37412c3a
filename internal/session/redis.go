package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fintrack/internal/completion"
)

// RedisStore persists conversation contexts in redis so the API can stay
// stateless across instances. Stale contexts simply expire; there is no
// timeout-driven abandonment beyond the TTL.
type RedisStore struct {
	Redis  *redis.Client
	Prefix string
	TTL    time.Duration
}

// NewRedisStore creates a store with a 24h TTL.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{Redis: client, Prefix: prefix, TTL: 24 * time.Hour}
}

func (s *RedisStore) key(sessionID string) string {
	if s.Prefix == "" {
		return "session:" + sessionID
	}
	return s.Prefix + ":session:" + sessionID
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*completion.Context, error) {
	raw, err := s.Redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &completion.Context{SessionID: sessionID}, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	var sess completion.Context
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *completion.Context) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.Redis.Set(ctx, s.key(sess.SessionID), raw, s.TTL).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.Redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}
