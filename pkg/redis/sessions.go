package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sessions binds a client session id to a signed-in account.
type Sessions struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSessions(client *redis.Client, ttl time.Duration) *Sessions {
	return &Sessions{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (s *Sessions) Bind(ctx context.Context, sessionID string, accountID int64) error {
	if err := s.client.Set(ctx, sessionKey(sessionID), accountID, s.ttl).Err(); err != nil {
		return fmt.Errorf("bind session: %w", err)
	}
	return nil
}

// AccountID returns the bound account, or ok=false for an anonymous session.
func (s *Sessions) AccountID(ctx context.Context, sessionID string) (id int64, ok bool, err error) {
	id, err = s.client.Get(ctx, sessionKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("resolve session: %w", err)
	}
	return id, true, nil
}

func (s *Sessions) Unbind(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("unbind session: %w", err)
	}
	return nil
}
