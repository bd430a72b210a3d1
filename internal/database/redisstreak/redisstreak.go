// Package redisstreak shares adaptive learner streaks between server
// replicas through Redis lists.
package redisstreak

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kozaktomas/face-enroll/internal/config"
)

const (
	keyPrefix  = "face-enroll:streak:"
	defaultTTL = 24 * time.Hour
	scanBatch  = 100
)

// Store is a biometric.StreakStore backed by one Redis list per identity.
// Entries are msgpack encoded float32 slices.
// Streaks expire after TTL without activity.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection with a PING.
func New(ctx context.Context, cfg config.RedisConfig, log *logrus.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	if log != nil {
		log.WithField("addr", cfg.Addr).Info("connected to redis streak store")
	}
	return NewWithClient(client, defaultTTL), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func streakKey(identityID string) string {
	return keyPrefix + identityID
}

func (s *Store) Push(ctx context.Context, identityID string, embedding []float32, limit int) (int, error) {
	data, err := msgpack.Marshal(embedding)
	if err != nil {
		return 0, fmt.Errorf("encoding embedding: %w", err)
	}

	key := streakKey(identityID)
	var length *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, data)
		if limit > 0 {
			pipe.LTrim(ctx, key, int64(-limit), -1)
		}
		pipe.Expire(ctx, key, s.ttl)
		length = pipe.LLen(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pushing streak for %s: %w", identityID, err)
	}
	return int(length.Val()), nil
}

func (s *Store) Drain(ctx context.Context, identityID string) ([][]float32, error) {
	key := streakKey(identityID)
	var items *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		items = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("draining streak for %s: %w", identityID, err)
	}

	streak := make([][]float32, 0, len(items.Val()))
	for _, item := range items.Val() {
		var emb []float32
		if err := msgpack.Unmarshal([]byte(item), &emb); err != nil {
			return nil, fmt.Errorf("decoding streak entry for %s: %w", identityID, err)
		}
		streak = append(streak, emb)
	}
	return streak, nil
}

func (s *Store) Reset(ctx context.Context, identityID string) error {
	if err := s.client.Del(ctx, streakKey(identityID)).Err(); err != nil {
		return fmt.Errorf("resetting streak for %s: %w", identityID, err)
	}
	return nil
}

// ResetAll deletes every streak key. It scans rather than flushing so other
// data in the same database is left alone.
func (s *Store) ResetAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return fmt.Errorf("scanning streak keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("deleting streak keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
