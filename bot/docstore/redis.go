package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures NewRedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore keeps each document as the string key <prefix><name>.
func NewRedisStore(ctx context.Context, opts RedisOptions) (Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("docstore: redis ping: %w", err)
	}
	return wrap(&redisStore{client: client, prefix: opts.Prefix}), nil
}

func (s *redisStore) get(ctx context.Context, name string) ([]byte, error) {
	body, err := s.client.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: redis get %s: %w", name, err)
	}
	return body, nil
}

func (s *redisStore) put(ctx context.Context, name string, body []byte) error {
	if err := s.client.Set(ctx, s.prefix+name, body, 0).Err(); err != nil {
		return fmt.Errorf("docstore: redis set %s: %w", name, err)
	}
	return nil
}

func (s *redisStore) close() error {
	return s.client.Close()
}

func (s *redisStore) backend() string { return "redis" }
