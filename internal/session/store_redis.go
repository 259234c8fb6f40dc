package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the token under a well-known key so every process sharing
// the Redis instance sees the same slot. Writes are announced on
// "<key>:events".
type RedisStore struct {
	client *redis.Client
	key    string
	owned  bool
	logger *slog.Logger
}

var (
	_ TokenStore = (*RedisStore)(nil)
	_ Notifier   = (*RedisStore)(nil)
)

// NewRedisStore creates a new Redis-backed token store.
func NewRedisStore(addr, password string, db int, key string, logger *slog.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	s := NewRedisStoreWithClient(client, key, logger)
	s.owned = true
	return s
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps ownership of it.
func NewRedisStoreWithClient(client *redis.Client, key string, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
		logger: logger.With("component", "token_store", "backend", "redis"),
	}
}

func (s *RedisStore) channel() string {
	return s.key + ":events"
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get retrieves the token.
func (s *RedisStore) Get(ctx context.Context) (string, bool) {
	token, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("Failed to read token, treating as absent", "key", s.key, "error", err)
		return "", false
	}
	return token, token != ""
}

// Set stores the token and announces the write.
func (s *RedisStore) Set(ctx context.Context, token string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// No TTL: an expired token must stay readable so the user is asked
		// to refresh instead of being silently logged out.
		pipe.Set(ctx, s.key, token, 0)
		pipe.Publish(ctx, s.channel(), string(ChangeSet))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// Clear removes the token and announces the removal.
func (s *RedisStore) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		pipe.Publish(ctx, s.channel(), string(ChangeCleared))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Watch subscribes to slot writes until ctx is done. The token itself is
// never published; on a set the current value is re-read.
func (s *RedisStore) Watch(ctx context.Context, fn func(Change)) error {
	sub := s.client.Subscribe(ctx, s.channel())
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel(), err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			switch ChangeOp(msg.Payload) {
			case ChangeSet:
				token, _ := s.Get(ctx)
				fn(Change{Op: ChangeSet, Token: token})
			case ChangeCleared:
				fn(Change{Op: ChangeCleared})
			default:
				s.logger.Debug("Ignoring unknown slot event", "payload", msg.Payload)
			}
		}
	}
}

// Close releases the Redis connection if the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
