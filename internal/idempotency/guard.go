// Package idempotency deduplicates retried crawl submissions that carry an
// x-idempotency-key header.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/id/uuid"
)

// Store errors.
var (
	ErrAlreadyBound = errors.New("idempotency key already bound to a job")
	ErrNotFound     = errors.New("idempotency record not found")
)

// Record binds a tenant's key to the fingerprint of the first request body
// that used it. JobID stays empty until that request is accepted and is then
// written exactly once; the other fields never change.
type Record struct {
	TenantID  string    `json:"tenant_id"`
	Key       string    `json:"key"`
	BodyHash  string    `json:"body_hash"`
	CreatedAt time.Time `json:"created_at"`
	JobID     string    `json:"job_id,omitempty"`
}

// Store persists records. Register must be an atomic insert-if-absent on
// (TenantID, Key): when several callers race, exactly one sees created=true
// and every other caller receives the winning record.
type Store interface {
	Register(ctx context.Context, rec Record) (existing Record, created bool, err error)
	Bind(ctx context.Context, tenantID, key, jobID string) error
}

// Hasher fingerprints request bodies.
type Hasher interface {
	HashJSON(v any) (string, error)
}

// GuardConfig tunes key validation.
type GuardConfig struct {
	// RequireUUID rejects keys that do not parse as a UUID.
	RequireUUID bool
}

// Guard implements admission.IdempotencyGuard on top of a Store.
type Guard struct {
	store  Store
	hasher Hasher
	clock  admission.Clock
	cfg    GuardConfig
	logger *zap.Logger
}

// NewGuard constructs a Guard.
func NewGuard(store Store, hasher Hasher, clock admission.Clock, cfg GuardConfig, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{store: store, hasher: hasher, clock: clock, cfg: cfg, logger: logger}
}

// fingerprintBody is the part of a submission that must match for a replay.
type fingerprintBody struct {
	URL           string                 `json:"url"`
	CrawlOptions  admission.CrawlOptions `json:"crawlerOptions"`
	ScrapeOptions map[string]any         `json:"scrapeOptions"`
}

// Fingerprint hashes the body fields of req.
func Fingerprint(h Hasher, req admission.SubmissionRequest) (string, error) {
	sum, err := h.HashJSON(fingerprintBody{
		URL:           req.TargetURL,
		CrawlOptions:  req.CrawlOptions,
		ScrapeOptions: req.ScrapeOptions,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}
	return sum, nil
}

// Check registers req.IdempotencyKey for the caller. A new key yields
// OutcomeRegistered. A key already bound to a job by an identical body yields
// OutcomeReplay. Any other reuse is a 409 rejection. Storage failures are
// 500 rejections and are not retried.
func (g *Guard) Check(
	ctx context.Context,
	caller admission.CallerContext,
	req admission.SubmissionRequest,
) (admission.IdempotencyOutcome, error) {
	key := req.IdempotencyKey
	if key == "" {
		return admission.IdempotencyOutcome{Kind: admission.OutcomeSkipped}, nil
	}
	if g.cfg.RequireUUID && !uuid.Valid(key) {
		g.logger.Debug("invalid idempotency key", zap.String("tenant_id", caller.TenantID))
		return admission.IdempotencyOutcome{}, admission.Reject(
			admission.ReasonInvalidIdempotencyKey, http.StatusConflict, admission.MessageIdempotencyKeyUsed)
	}

	bodyHash, err := Fingerprint(g.hasher, req)
	if err != nil {
		return admission.IdempotencyOutcome{}, err
	}

	existing, created, err := g.store.Register(ctx, Record{
		TenantID:  caller.TenantID,
		Key:       key,
		BodyHash:  bodyHash,
		CreatedAt: g.clock.Now(),
	})
	if err != nil {
		return admission.IdempotencyOutcome{}, admission.Reject(
			admission.ReasonIdempotencyStoreFailure,
			http.StatusInternalServerError,
			err.Error(),
		).WithCause(err)
	}
	if created {
		return admission.IdempotencyOutcome{Kind: admission.OutcomeRegistered}, nil
	}

	if existing.BodyHash == bodyHash && existing.JobID != "" {
		return admission.IdempotencyOutcome{Kind: admission.OutcomeReplay, JobID: existing.JobID}, nil
	}
	g.logger.Info("idempotency key reused",
		zap.String("tenant_id", caller.TenantID),
		zap.Bool("same_body", existing.BodyHash == bodyHash),
		zap.Bool("bound", existing.JobID != ""),
	)
	return admission.IdempotencyOutcome{}, admission.Reject(
		admission.ReasonDuplicateIdempotencyKey, http.StatusConflict, admission.MessageIdempotencyKeyUsed)
}

// Bind records jobID against a key registered by Check.
func (g *Guard) Bind(ctx context.Context, caller admission.CallerContext, key string, jobID string) error {
	if err := g.store.Bind(ctx, caller.TenantID, key, jobID); err != nil {
		return fmt.Errorf("bind idempotency key: %w", err)
	}
	return nil
}
