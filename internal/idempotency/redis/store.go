// Package redis provides a Redis-backed idempotency store. Records expire
// after a configurable TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-admission/internal/idempotency"
)

// DefaultPrefix namespaces record keys.
const DefaultPrefix = "admission:idempotency:"

// DefaultTTL applies when no TTL is configured.
const DefaultTTL = 24 * time.Hour

type client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Get(ctx context.Context, key string) *goredis.StringCmd
	PTTL(ctx context.Context, key string) *goredis.DurationCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// Store keeps each record under one key and its bound job id under a second
// key. Both are written with SET NX so the first writer always wins, and the
// job key never outlives its record.
type Store struct {
	client client
	prefix string
	ttl    time.Duration
}

// NewStore builds a store on c.
func NewStore(c client, prefix string, ttl time.Duration) (*Store, error) {
	if c == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: c, prefix: prefix, ttl: ttl}, nil
}

func (s *Store) recordKey(tenantID, key string) string {
	return s.prefix + tenantID + ":" + key
}

func (s *Store) jobKey(tenantID, key string) string {
	return s.recordKey(tenantID, key) + ":job"
}

// Register stores rec unless a record for the tenant and key exists.
func (s *Store) Register(ctx context.Context, rec idempotency.Record) (idempotency.Record, bool, error) {
	rec.JobID = ""
	payload, err := json.Marshal(rec)
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("encode idempotency record: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.recordKey(rec.TenantID, rec.Key), payload, s.ttl).Result()
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("register idempotency key: %w", err)
	}
	if created {
		// A job key left from an expired record must not leak into this one.
		if err := s.client.Del(ctx, s.jobKey(rec.TenantID, rec.Key)).Err(); err != nil {
			return idempotency.Record{}, false, fmt.Errorf("clear stale idempotency job: %w", err)
		}
		return rec, true, nil
	}

	raw, err := s.client.Get(ctx, s.recordKey(rec.TenantID, rec.Key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return idempotency.Record{}, false, fmt.Errorf("lookup idempotency key: %w", idempotency.ErrNotFound)
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	var existing idempotency.Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return idempotency.Record{}, false, fmt.Errorf("decode idempotency record: %w", err)
	}

	jobID, err := s.client.Get(ctx, s.jobKey(rec.TenantID, rec.Key)).Result()
	switch {
	case errors.Is(err, goredis.Nil):
	case err != nil:
		return idempotency.Record{}, false, fmt.Errorf("lookup idempotency job: %w", err)
	default:
		existing.JobID = jobID
	}
	return existing, false, nil
}

// Bind writes jobID once for a registered key, expiring with the record.
func (s *Store) Bind(ctx context.Context, tenantID, key, jobID string) error {
	remaining, err := s.client.PTTL(ctx, s.recordKey(tenantID, key)).Result()
	if err != nil {
		return fmt.Errorf("bind idempotency job: %w", err)
	}
	switch {
	case remaining == -2:
		return fmt.Errorf("bind idempotency job: %w", idempotency.ErrNotFound)
	case remaining <= 0:
		// No expiry on the record.
		remaining = s.ttl
	}
	ok, err := s.client.SetNX(ctx, s.jobKey(tenantID, key), jobID, remaining).Result()
	if err != nil {
		return fmt.Errorf("bind idempotency job: %w", err)
	}
	if !ok {
		return idempotency.ErrAlreadyBound
	}
	return nil
}
