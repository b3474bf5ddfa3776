// Package memory keeps the last answered rounds of a conversation so callers
// can send only the newest user turn.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/spamguard/spamrag/common/logger"
	"github.com/spamguard/spamrag/config"
	"github.com/spamguard/spamrag/errdefs"
)

// Store persists conversation rounds keyed by conversation id.
type Store interface {
	// LastRounds returns at most n rounds, oldest first. n <= 0 returns all kept rounds.
	LastRounds(ctx context.Context, conversationID string, n int) ([]Round, error)
	SaveRound(ctx context.Context, conversationID string, round Round) error
	Clear(ctx context.Context, conversationID string) error
}

// NewStore builds the configured store.
func NewStore(cfg config.MemoryConfig) (Store, error) {
	maxRounds := cfg.LastNRounds
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	switch cfg.Store {
	case "", "memory":
		return NewInMemoryStore(maxRounds), nil
	case "redis":
		cli := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(cli, cfg.Redis.Prefix, ttl, maxRounds), nil
	default:
		return nil, errdefs.Configurationf("unsupported memory store %q", cfg.Store)
	}
}

// =============================================================================
// InMemoryStore
// =============================================================================

// InMemoryStore is suited to single-instance deployments and tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	rounds    map[string][]Round
	maxRounds int
}

func NewInMemoryStore(maxRounds int) *InMemoryStore {
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &InMemoryStore{rounds: make(map[string][]Round), maxRounds: maxRounds}
}

func (s *InMemoryStore) LastRounds(ctx context.Context, conversationID string, n int) ([]Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rounds := s.rounds[conversationID]
	if n <= 0 || n > len(rounds) {
		n = len(rounds)
	}
	out := make([]Round, n)
	copy(out, rounds[len(rounds)-n:])
	return out, nil
}

func (s *InMemoryStore) SaveRound(ctx context.Context, conversationID string, round Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rounds := append(s.rounds[conversationID], round)
	if len(rounds) > s.maxRounds {
		rounds = append([]Round(nil), rounds[len(rounds)-s.maxRounds:]...)
	}
	s.rounds[conversationID] = rounds
	return nil
}

func (s *InMemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rounds, conversationID)
	return nil
}

// =============================================================================
// RedisStore
// =============================================================================

// RedisStore keeps each conversation as a capped Redis list of JSON rounds.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	ttl       time.Duration
	maxRounds int
}

func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration, maxRounds int) *RedisStore {
	if prefix == "" {
		prefix = "spamrag:conv:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxRounds <= 0 {
		maxRounds = 10
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl, maxRounds: maxRounds}
}

func (s *RedisStore) key(conversationID string) string { return s.prefix + conversationID + ":rounds" }

func (s *RedisStore) LastRounds(ctx context.Context, conversationID string, n int) ([]Round, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	values, err := s.rdb.LRange(ctx, s.key(conversationID), start, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, errdefs.Upstream("memory.lrange", err)
	}
	out := make([]Round, 0, len(values))
	for _, v := range values {
		var r Round
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			logger.Warnf("memory: skipping unreadable round in %s: %v", conversationID, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) SaveRound(ctx context.Context, conversationID string, round Round) error {
	data, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("marshal round: %w", err)
	}
	key := s.key(conversationID)
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, data)
		p.LTrim(ctx, key, int64(-s.maxRounds), -1)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return errdefs.Upstream("memory.save", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, conversationID string) error {
	if err := s.rdb.Del(ctx, s.key(conversationID)).Err(); err != nil {
		return errdefs.Upstream("memory.clear", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error { return s.rdb.Close() }
