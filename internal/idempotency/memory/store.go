// Package memory provides an in-process idempotency store for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/crawl-admission/internal/idempotency"
)

type recordKey struct {
	tenantID string
	key      string
}

// Store keeps idempotency records in a map guarded by a mutex.
type Store struct {
	mu      sync.Mutex
	records map[recordKey]idempotency.Record
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{records: make(map[recordKey]idempotency.Record)}
}

// Register inserts rec unless (TenantID, Key) is already present.
func (s *Store) Register(_ context.Context, rec idempotency.Record) (idempotency.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{tenantID: rec.TenantID, key: rec.Key}
	if existing, ok := s.records[k]; ok {
		return existing, false, nil
	}
	s.records[k] = rec
	return rec, true, nil
}

// Bind sets the job ID of a registered record once.
func (s *Store) Bind(_ context.Context, tenantID, key, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := recordKey{tenantID: tenantID, key: key}
	rec, ok := s.records[k]
	if !ok {
		return idempotency.ErrNotFound
	}
	if rec.JobID != "" {
		return idempotency.ErrAlreadyBound
	}
	rec.JobID = jobID
	s.records[k] = rec
	return nil
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
