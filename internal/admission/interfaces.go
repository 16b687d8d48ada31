package admission

import (
	"context"
	"time"
)

// Authenticator resolves the caller's tenant and consumes one unit of the
// tenant's rate budget for mode. Failures are returned as *Rejection.
type Authenticator interface {
	Authenticate(ctx context.Context, credentials string, mode Mode) (CallerContext, error)
}

// IdempotencyGuard enforces at-most-once admission for keyed requests.
type IdempotencyGuard interface {
	// Check validates and registers req.IdempotencyKey for the caller.
	Check(ctx context.Context, caller CallerContext, req SubmissionRequest) (IdempotencyOutcome, error)
	// Bind records the job issued for a registered key.
	Bind(ctx context.Context, caller CallerContext, key string, jobID string) error
}

// QuotaEnforcer reserves credits for an admission attempt.
type QuotaEnforcer interface {
	Check(ctx context.Context, caller CallerContext, units int) (CreditHold, error)
	Commit(ctx context.Context, hold CreditHold) error
	Release(ctx context.Context, hold CreditHold) error
}

// Blocklist reports whether a raw, caller-supplied URL is disallowed.
type Blocklist interface {
	IsBlocked(rawURL string) bool
}

// URLNormalizer canonicalizes a raw URL or fails.
type URLNormalizer interface {
	Normalize(rawURL string) (string, error)
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// DecisionRecorder receives one record per admission decision. Record must
// not block.
type DecisionRecorder interface {
	Record(rec DecisionRecord)
}
