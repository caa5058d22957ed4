package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/ethscore/internal/domain"
	"github.com/opensource-finance/ethscore/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when the configured redis key holds no artifact.
var ErrNotFound = errors.New("artifact not found")

// RedisStore keeps a JSON-encoded artifact under a single key.
// Replicas share one published model without a database.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg domain.RedisConfig, key string) (*RedisStore, error) {
	if key == "" {
		return nil, fmt.Errorf("redis artifact key is required")
	}

	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, key: key}, nil
}

// Fetch reads and decodes the artifact.
func (s *RedisStore) Fetch(ctx context.Context) (*domain.Artifact, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("redis key %s: %w", s.key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var a domain.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("redis key %s: invalid artifact: %w", s.key, err)
	}
	if len(a.Payload) == 0 {
		return nil, fmt.Errorf("redis key %s: artifact has no payload", s.key)
	}
	if a.SHA256 == "" {
		a.SHA256 = model.Digest(a.Payload)
	}
	return &a, nil
}

// Publish stores an artifact under the key, replacing any previous one.
func (s *RedisStore) Publish(ctx context.Context, a *domain.Artifact) error {
	if a.SHA256 == "" {
		a.SHA256 = model.Digest(a.Payload)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
