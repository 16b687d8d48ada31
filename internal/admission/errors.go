package admission

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Reason classifies why a submission was rejected.
type Reason string

// Rejection reasons.
const (
	ReasonAuthFailure             Reason = "auth_failure"
	ReasonRateLimited             Reason = "rate_limited"
	ReasonInvalidBody             Reason = "invalid_body"
	ReasonInvalidIdempotencyKey   Reason = "invalid_idempotency_key"
	ReasonDuplicateIdempotencyKey Reason = "duplicate_idempotency_key"
	ReasonIdempotencyStoreFailure Reason = "idempotency_store_failure"
	ReasonInsufficientCredits     Reason = "insufficient_credits"
	ReasonMissingURL              Reason = "missing_url"
	ReasonInvalidURL              Reason = "invalid_url"
	ReasonBlockedURL              Reason = "blocked_url"
	ReasonInternal                Reason = "internal_unexpected"
)

// Caller-facing messages.
const (
	MessageInvalidBody         = "Invalid request body"
	MessageURLRequired         = "Url is required"
	MessageInvalidURL          = "Invalid Url"
	MessageInsufficientCredits = "Insufficient credits"
	MessageIdempotencyKeyUsed  = "Idempotency key already used"
	MessageUnauthorized        = "Unauthorized"
	MessageInvalidToken        = "Unauthorized: Invalid token"
	MessageInternal            = "Internal server error"
)

// Rejection is a terminal admission failure. Stages return it as an error so
// the pipeline can pass status and message through unchanged.
type Rejection struct {
	Reason     Reason
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

// Reject builds a Rejection.
func Reject(reason Reason, status int, message string) *Rejection {
	return &Rejection{Reason: reason, Status: status, Message: message}
}

// Error implements error.
func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", r.Reason, r.Status, r.Message, r.Err)
	}
	return fmt.Sprintf("%s (%d): %s", r.Reason, r.Status, r.Message)
}

// Unwrap exposes the underlying cause.
func (r *Rejection) Unwrap() error {
	return r.Err
}

// WithCause attaches the underlying error.
func (r *Rejection) WithCause(err error) *Rejection {
	r.Err = err
	return r
}

// AsRejection converts err into a Rejection. Errors that are not rejections
// become InternalUnexpected with status 500 and the error text as message.
func AsRejection(err error) *Rejection {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej
	}
	return Reject(ReasonInternal, http.StatusInternalServerError, err.Error()).WithCause(err)
}
