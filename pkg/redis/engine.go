package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"julianmorley.ca/con-plar/megamart/pkg/global"
)

func NewClient(cfg global.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       0,
		Protocol: 2,
	})
}

// Connect builds a client and checks the server answers.
func Connect(ctx context.Context, cfg global.RedisConfig) (*redis.Client, error) {
	client := NewClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Address, err)
	}
	return client, nil
}
