// Package admission decides whether a crawl submission may be accepted and
// issues the job identity for accepted submissions.
package admission

import (
	"strings"
	"time"
)

// Mode names the operation a caller is authenticating for. Rate-limit budgets
// are tracked per mode.
type Mode string

// Operation modes understood by authenticators.
const (
	ModeCrawl       Mode = "crawl"
	ModeCrawlStatus Mode = "crawlStatus"
	ModeScrape      Mode = "scrape"
	ModeSearch      Mode = "search"
	ModePreview     Mode = "preview"
)

// CrawlOptions carries the crawler knobs a client may set on submission.
type CrawlOptions struct {
	IncludePaths       []string `json:"includePaths,omitempty"`
	ExcludePaths       []string `json:"excludePaths,omitempty"`
	MaxDepth           *int     `json:"maxDepth,omitempty"`
	Limit              *int     `json:"limit,omitempty"`
	AllowBackwardLinks *bool    `json:"allowBackwardLinks,omitempty"`
	AllowExternalLinks *bool    `json:"allowExternalLinks,omitempty"`
	IgnoreSitemap      *bool    `json:"ignoreSitemap,omitempty"`
}

// SubmissionRequest is a job-creation request as received. It is never
// modified after construction.
type SubmissionRequest struct {
	TargetURL      string
	CrawlOptions   CrawlOptions
	ScrapeOptions  map[string]any
	IdempotencyKey string

	// Credentials is the raw Authorization header value.
	Credentials string
	// Origin is the scheme://host the client addressed; status URLs are built from it.
	Origin string
	// Malformed marks a body that could not be decoded. It is rejected only
	// after authentication so anonymous callers still see 401.
	Malformed bool
}

// HasIdempotencyKey reports whether the caller opted in to deduplication.
func (r SubmissionRequest) HasIdempotencyKey() bool {
	return r.IdempotencyKey != ""
}

// CallerContext identifies the authenticated tenant. It is passed explicitly
// to every stage after authentication.
type CallerContext struct {
	TenantID      string
	Authenticated bool
}

// JobIdentity is issued once per accepted submission.
type JobIdentity struct {
	ID        string `json:"id"`
	StatusURL string `json:"url"`
}

// EnqueuePayload is what an accepted submission hands to the external job queue.
type EnqueuePayload struct {
	JobID         string         `json:"job_id"`
	TenantID      string         `json:"tenant_id"`
	URL           string         `json:"url"`
	CrawlOptions  CrawlOptions   `json:"crawler_options"`
	ScrapeOptions map[string]any `json:"scrape_options,omitempty"`
	SubmittedAt   time.Time      `json:"submitted_at"`
}

// OutcomeKind classifies the idempotency guard's verdict.
type OutcomeKind int

// Idempotency outcomes.
const (
	// OutcomeSkipped means the request carried no key.
	OutcomeSkipped OutcomeKind = iota
	// OutcomeRegistered means the key was new and is now registered.
	OutcomeRegistered
	// OutcomeReplay means an identical request already produced JobID.
	OutcomeReplay
)

// IdempotencyOutcome is returned by IdempotencyGuard.Check.
type IdempotencyOutcome struct {
	Kind  OutcomeKind
	JobID string
}

// CreditHold is a reservation returned by the quota enforcer. Admitted is
// false when the tenant lacks balance; ID is empty for ledgers that do not
// track holds.
type CreditHold struct {
	ID       string
	TenantID string
	Units    int
	Admitted bool
	Message  string
}

// Decision is the single terminal result of Pipeline.Admit.
type Decision struct {
	Accepted  bool
	Identity  JobIdentity
	Payload   *EnqueuePayload
	Replayed  bool
	Rejection *Rejection
	// Stage is the last state the request reached.
	Stage State
	// TenantID is empty when authentication failed.
	TenantID string
}

// Decision outcomes, as reported by Outcome.
const (
	DecisionAccepted = "accepted"
	DecisionReplayed = "replayed"
	DecisionRejected = "rejected"
)

// Outcome classifies the decision as accepted, replayed or rejected.
func (d Decision) Outcome() string {
	switch {
	case d.Replayed:
		return DecisionReplayed
	case d.Accepted:
		return DecisionAccepted
	default:
		return DecisionRejected
	}
}

// DecisionRecord summarizes one terminal decision for the audit trail.
type DecisionRecord struct {
	TenantID string
	JobID    string
	Outcome  string
	Reason   Reason
	Status   int
	Stage    State
	// URL is the normalized target for fresh acceptances and the raw input otherwise.
	URL string
	At  time.Time
}

// Status returns the HTTP status for the decision.
func (d Decision) Status() int {
	if d.Accepted || d.Rejection == nil {
		return 200
	}
	return d.Rejection.Status
}

// StatusURL builds the caller-facing polling URL for a job.
func StatusURL(origin, jobID string) string {
	return strings.TrimRight(origin, "/") + "/v1/crawl/" + jobID
}
