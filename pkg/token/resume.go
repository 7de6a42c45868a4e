// Package token persists the exporter's change stream resume position.
package token

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AdarCohen1/MathStARz/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// Store saves and loads a resume token. Load returns nil, nil when nothing
// has been saved yet.
type Store interface {
	Save(ctx context.Context, token bson.Raw) error
	Load(ctx context.Context) (bson.Raw, error)
}

// New picks the backend named by cfg.TokenBackend. rdb is only used for the
// redis backend.
func New(cfg config.ExporterConfig, rdb *redis.Client) (Store, error) {
	switch cfg.TokenBackend {
	case "", "file":
		return NewFileStore(cfg.ResumeTokenPath), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis token backend requires a redis client")
		}
		return NewRedisStore(rdb, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}
}

type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save writes through a temp file and rename so a crash never leaves a
// truncated token behind.
func (s *FileStore) Save(_ context.Context, token bson.Raw) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, token, 0o600); err != nil {
		return fmt.Errorf("failed to write resume token: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) Load(_ context.Context) (bson.Raw, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resume token: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return bson.Raw(data), nil
}

type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Save(ctx context.Context, token bson.Raw) error {
	return s.client.Set(ctx, s.key, []byte(token), 0).Err()
}

func (s *RedisStore) Load(ctx context.Context) (bson.Raw, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resume token: %w", err)
	}
	return bson.Raw(data), nil
}
