package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix is prepended to every thread key.
const DefaultRedisPrefix = "chatgraph:thread:"

// RedisStore persists checkpoints in Redis.
// Each thread is a sorted set scored by step whose members are the encoded
// checkpoints. Saves use optimistic locking so concurrent writers to the same
// thread cannot both advance it to the same step.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	ttl       time.Duration
	ownClient bool

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL expires a thread after ttl without saves. Zero keeps threads forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix for threads.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the Redis server at addr.
// The store owns the client and closes it on Close.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	s := NewRedisStoreFromClient(client, opts...)
	s.ownClient = true
	return s
}

// NewRedisStoreFromClient creates a store over an existing client.
// The caller keeps ownership of the client.
func NewRedisStoreFromClient(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(threadID string) string {
	return s.prefix + threadID
}

func (s *RedisStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ThreadID == "" {
		return ErrThreadIDRequired
	}
	if err := s.checkOpen(); err != nil {
		return err
	}

	data, err := cp.Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	key := s.key(cp.ThreadID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		latest, err := tx.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return fmt.Errorf("read latest step: %w", err)
		}
		if len(latest) > 0 && float64(cp.Step) <= latest[0].Score {
			return fmt.Errorf("%w: step %d, latest %d", ErrStaleStep, cp.Step, int(latest[0].Score))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(cp.Step), Member: string(data)})
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: concurrent save to thread %s", ErrStaleStep, cp.ThreadID)
	}
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// SetNextNode implements Store.
// The checkpoint member is swapped for its updated encoding in one
// transaction, so readers never see the step missing.
func (s *RedisStore) SetNextNode(ctx context.Context, threadID string, step int, next string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	key := s.key(threadID)
	score := strconv.Itoa(step)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		members, err := tx.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: score, Max: score}).Result()
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if len(members) == 0 {
			return ErrNotFound
		}

		cp, err := Unmarshal([]byte(members[0]))
		if err != nil {
			return err
		}
		cp.NextNode = next
		data, err := cp.Marshal()
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, key, members[0])
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(step), Member: string(data)})
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("concurrent write to thread %s: %w", threadID, err)
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("set next node: %w", err)
	}
	return nil
}

// Latest implements Store.
func (s *RedisStore) Latest(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	members, err := s.client.ZRevRange(ctx, s.key(threadID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	return Unmarshal([]byte(members[0]))
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, threadID string, step int) (*Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	score := strconv.Itoa(step)
	members, err := s.client.ZRangeByScore(ctx, s.key(threadID), &redis.ZRangeBy{
		Min: score,
		Max: score,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(members) == 0 {
		return nil, ErrNotFound
	}
	return Unmarshal([]byte(members[0]))
}

// List implements Store.
func (s *RedisStore) List(ctx context.Context, threadID string) ([]Info, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	members, err := s.client.ZRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}

	infos := make([]Info, 0, len(members))
	for _, m := range members {
		cp, err := Unmarshal([]byte(m))
		if err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		infos = append(infos, cp.Info(int64(len(m))))
	}
	return infos, nil
}

// DeleteThread implements Store.
func (s *RedisStore) DeleteThread(ctx context.Context, threadID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("delete thread checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
// The underlying client is closed only when the store created it.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}
