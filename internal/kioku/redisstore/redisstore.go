// Package redisstore provides a Redis-backed session.Backend.
//
// Each session is stored as a JSON string under <namespace>:session:<id>.
// A sorted set per user+character pair, scored by last update time, indexes
// the sessions for listing.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/bdobrica/Kioku/internal/kioku/session"
)

// Config holds configuration for the Redis backend.
type Config struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Namespace    string        `yaml:"namespace"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Namespace:    "kioku",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	}
}

// Backend implements session.Backend on Redis.
type Backend struct {
	client    goredis.UniversalClient
	namespace string
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Backend, error) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg.Namespace), nil
}

// NewWithClient wraps an existing client. An empty namespace means "kioku".
func NewWithClient(client goredis.UniversalClient, namespace string) *Backend {
	if namespace == "" {
		namespace = "kioku"
	}
	return &Backend{client: client, namespace: namespace}
}

// Close closes the underlying client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// Ping checks connectivity; used by the status endpoint.
func (b *Backend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Backend) sessionKey(id string) string {
	return b.namespace + ":session:" + id
}

func (b *Backend) indexKey(userID, characterID string) string {
	return b.namespace + ":sessions:" + userID + ":" + characterID
}

// Get loads a session.
func (b *Backend) Get(ctx context.Context, sessionID string) (*session.Session, error) {
	data, err := b.client.Get(ctx, b.sessionKey(sessionID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decode(data)
}

// Put stores a session and refreshes its position in the listing index.
func (b *Backend) Put(ctx context.Context, s *session.Session) error {
	cp := *s
	cp.LastMessagePair = nil
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("redis put: encode: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, b.sessionKey(s.SessionID), data, 0)
		pipe.ZAdd(ctx, b.indexKey(s.UserID, s.CharacterID), goredis.Z{
			Score:  float64(s.LastUpdated.UnixMilli()),
			Member: s.SessionID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// Delete removes a session and its index entry.
func (b *Backend) Delete(ctx context.Context, sessionID string) error {
	s, err := b.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, b.sessionKey(sessionID))
		pipe.ZRem(ctx, b.indexKey(s.UserID, s.CharacterID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// List returns the sessions of a user+character pair, most recently
// updated first. Index entries whose record has vanished are pruned.
func (b *Backend) List(ctx context.Context, userID, characterID string) ([]*session.Session, error) {
	index := b.indexKey(userID, characterID)
	ids, err := b.client.ZRevRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.sessionKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}

	out := make([]*session.Session, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		s, err := decode([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(stale) > 0 {
		b.client.ZRem(ctx, index, stale...)
	}
	return out, nil
}

func decode(data []byte) (*session.Session, error) {
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("redis decode session: %w", err)
	}
	if s.Messages == nil {
		s.Messages = []session.Message{}
	}
	return &s, nil
}

var _ session.Backend = (*Backend)(nil)
