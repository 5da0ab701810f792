package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Sequence hands out order numbers from a per-day INCR counter shared by every
// API replica. The key expires two days after first use.
type Sequence struct {
	RDB *redis.Client
}

func (s Sequence) Next(ctx context.Context, day time.Time) (int64, error) {
	key := SeqKey(day)
	n, err := s.RDB.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		_ = s.RDB.Expire(ctx, key, TTLOrderSeq).Err()
	}
	return n, nil
}

// Idempotency maps a client Idempotency-Key to the order it produced.
type Idempotency struct {
	RDB *redis.Client
}

func (i Idempotency) Lookup(ctx context.Context, key string) (string, bool, error) {
	id, err := i.RDB.Get(ctx, IdemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remember stores key -> orderID unless the key is already bound; it reports the
// order the key ends up pointing at.
func (i Idempotency) Remember(ctx context.Context, key, orderID string) (string, error) {
	ok, err := i.RDB.SetNX(ctx, IdemKey(key), orderID, TTLIdempotency).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return orderID, nil
	}
	return i.RDB.Get(ctx, IdemKey(key)).Result()
}

// Dedup marks event ids as processed for one consumer service.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

// First reports whether id is seen for the first time.
func (d Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.RDB.SetNX(ctx, DedupKey(d.Service, id), 1, TTLDedup).Result()
}

// Forget lets a failed delivery be retried.
func (d Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, DedupKey(d.Service, id)).Err()
}

type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps the latest status per order for cheap polling.
type StatusCache struct {
	RDB *redis.Client
}

func (c StatusCache) Put(ctx context.Context, orderID, status string, at time.Time) error {
	b, err := json.Marshal(CachedStatus{Status: status, UpdatedAt: at})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, StatusKey(orderID), b, TTLStatusCache).Err()
}

func (c StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	var cs CachedStatus
	b, err := c.RDB.Get(ctx, StatusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, false, err
	}
	return cs, true, nil
}
