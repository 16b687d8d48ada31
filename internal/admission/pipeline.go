package admission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/metrics"
)

const tracerName = "github.com/JakeFAU/crawl-admission/internal/admission"

// DefaultBlockedMessage is returned with 403 for blocklisted URLs.
const DefaultBlockedMessage = "Firecrawl currently does not support social media scraping due to " +
	"policy restrictions. We're actively working on building support for it."

// CrawlUnitCost is the credit cost of one crawl submission.
const CrawlUnitCost = 1

// Dependencies are the collaborators the pipeline sequences.
type Dependencies struct {
	Authenticator Authenticator
	Guard         IdempotencyGuard
	Quota         QuotaEnforcer
	Blocklist     Blocklist
	Normalizer    URLNormalizer
	IDs           IDGenerator
	Clock         Clock
	// Recorder is optional.
	Recorder DecisionRecorder
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Config tunes pipeline behavior.
type Config struct {
	BlockedMessage string
	UnitCost       int
}

// Pipeline runs the fixed admission sequence for crawl submissions.
type Pipeline struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline. All dependencies are required.
func New(deps Dependencies, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Authenticator == nil:
		return nil, errors.New("authenticator is required")
	case deps.Guard == nil:
		return nil, errors.New("idempotency guard is required")
	case deps.Quota == nil:
		return nil, errors.New("quota enforcer is required")
	case deps.Blocklist == nil:
		return nil, errors.New("blocklist is required")
	case deps.Normalizer == nil:
		return nil, errors.New("url normalizer is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	}
	if cfg.BlockedMessage == "" {
		cfg.BlockedMessage = DefaultBlockedMessage
	}
	if cfg.UnitCost <= 0 {
		cfg.UnitCost = CrawlUnitCost
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// Admit runs req through authenticate, idempotency, credits, URL presence,
// blocklist and normalization, in that order, and returns exactly one
// terminal decision. Idempotency registration is never undone; a credit hold
// is released when a later stage rejects and committed on acceptance.
func (p *Pipeline) Admit(ctx context.Context, req SubmissionRequest) Decision {
	ctx, span := p.deps.Tracer.Start(ctx, "admission.Admit", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	d := p.admit(ctx, req)
	span.SetAttributes(
		attribute.String("admission.outcome", d.Outcome()),
		attribute.String("admission.stage", d.Stage.String()),
		attribute.Int("http.status_code", d.Status()),
	)
	if d.TenantID != "" {
		span.SetAttributes(attribute.String("admission.tenant_id", d.TenantID))
	}
	if d.Identity.ID != "" {
		span.SetAttributes(attribute.String("admission.job_id", d.Identity.ID))
	}
	if reason := rejectionReason(d); reason != "" {
		span.SetAttributes(attribute.String("admission.reason", string(reason)))
		if d.Status() >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, string(reason))
		}
	}
	metrics.ObserveDecision(d.Outcome(), string(rejectionReason(d)))
	if p.deps.Recorder != nil {
		p.deps.Recorder.Record(p.recordOf(req, d))
	}
	return d
}

func (p *Pipeline) recordOf(req SubmissionRequest, d Decision) DecisionRecord {
	rec := DecisionRecord{
		TenantID: d.TenantID,
		JobID:    d.Identity.ID,
		Outcome:  d.Outcome(),
		Reason:   rejectionReason(d),
		Status:   d.Status(),
		Stage:    d.Stage,
		URL:      req.TargetURL,
		At:       p.deps.Clock.Now(),
	}
	if d.Payload != nil {
		rec.URL = d.Payload.URL
	}
	return rec
}

func rejectionReason(d Decision) Reason {
	if d.Rejection == nil {
		return ""
	}
	return d.Rejection.Reason
}

func (p *Pipeline) admit(ctx context.Context, req SubmissionRequest) Decision {
	state := StateStart

	caller, err := timed(StateAuthenticated, func() (CallerContext, error) {
		return p.deps.Authenticator.Authenticate(ctx, req.Credentials, ModeCrawl)
	})
	if err != nil {
		return p.reject(state, "", AsRejection(err))
	}
	if !caller.Authenticated || caller.TenantID == "" {
		return p.reject(state, "", Reject(ReasonAuthFailure, http.StatusUnauthorized, MessageUnauthorized))
	}
	state = p.advance(state, StateAuthenticated, caller)

	if req.Malformed {
		return p.reject(state, caller.TenantID, Reject(ReasonInvalidBody, http.StatusBadRequest, MessageInvalidBody))
	}

	if req.HasIdempotencyKey() {
		outcome, err := timed(StateIdempotencyChecked, func() (IdempotencyOutcome, error) {
			return p.deps.Guard.Check(ctx, caller, req)
		})
		if err != nil {
			return p.reject(state, caller.TenantID, AsRejection(err))
		}
		if outcome.Kind == OutcomeReplay {
			return p.replay(req, caller, outcome.JobID)
		}
	}
	state = p.advance(state, StateIdempotencyChecked, caller)

	hold, err := timed(StateCreditsChecked, func() (CreditHold, error) {
		return p.deps.Quota.Check(ctx, caller, p.cfg.UnitCost)
	})
	if err != nil {
		return p.reject(state, caller.TenantID, AsRejection(fmt.Errorf("check credits: %w", err)))
	}
	if !hold.Admitted {
		p.logger.Debug("credits check refused",
			zap.String("tenant_id", caller.TenantID),
			zap.String("message", hold.Message),
		)
		return p.reject(state, caller.TenantID,
			Reject(ReasonInsufficientCredits, http.StatusPaymentRequired, MessageInsufficientCredits))
	}
	state = p.advance(state, StateCreditsChecked, caller)

	// Past this point every rejection gives the reserved credits back.
	rejectHeld := func(rej *Rejection) Decision {
		p.release(ctx, hold)
		return p.reject(state, caller.TenantID, rej)
	}

	if strings.TrimSpace(req.TargetURL) == "" {
		return rejectHeld(Reject(ReasonMissingURL, http.StatusBadRequest, MessageURLRequired))
	}
	state = p.advance(state, StateURLPresenceChecked, caller)

	if p.deps.Blocklist.IsBlocked(req.TargetURL) {
		return rejectHeld(Reject(ReasonBlockedURL, http.StatusForbidden, p.cfg.BlockedMessage))
	}
	state = p.advance(state, StateBlocklistChecked, caller)

	normalized, err := p.deps.Normalizer.Normalize(req.TargetURL)
	if err != nil {
		return rejectHeld(Reject(ReasonInvalidURL, http.StatusBadRequest, MessageInvalidURL).WithCause(err))
	}
	state = p.advance(state, StateURLNormalized, caller)

	jobID, err := p.deps.IDs.NewID()
	if err != nil {
		return rejectHeld(AsRejection(fmt.Errorf("generate job id: %w", err)))
	}
	if req.HasIdempotencyKey() {
		if err := p.deps.Guard.Bind(ctx, caller, req.IdempotencyKey, jobID); err != nil {
			return rejectHeld(Reject(ReasonIdempotencyStoreFailure, http.StatusInternalServerError, err.Error()).
				WithCause(err))
		}
	}
	if err := p.deps.Quota.Commit(context.WithoutCancel(ctx), hold); err != nil {
		p.logger.Error("commit credit hold failed",
			zap.String("tenant_id", caller.TenantID),
			zap.String("hold_id", hold.ID),
			zap.Error(err),
		)
	}

	identity := JobIdentity{ID: jobID, StatusURL: StatusURL(req.Origin, jobID)}
	payload := &EnqueuePayload{
		JobID:         jobID,
		TenantID:      caller.TenantID,
		URL:           normalized,
		CrawlOptions:  req.CrawlOptions,
		ScrapeOptions: req.ScrapeOptions,
		SubmittedAt:   p.deps.Clock.Now(),
	}
	p.advance(state, StateAccepted, caller)
	p.logger.Info("crawl submission accepted",
		zap.String("tenant_id", caller.TenantID),
		zap.String("job_id", jobID),
		zap.String("url", normalized),
	)
	return Decision{
		Accepted: true,
		Identity: identity,
		Payload:  payload,
		Stage:    StateAccepted,
		TenantID: caller.TenantID,
	}
}

func (p *Pipeline) replay(req SubmissionRequest, caller CallerContext, jobID string) Decision {
	p.logger.Info("idempotent replay",
		zap.String("tenant_id", caller.TenantID),
		zap.String("job_id", jobID),
	)
	return Decision{
		Accepted: true,
		Replayed: true,
		Identity: JobIdentity{ID: jobID, StatusURL: StatusURL(req.Origin, jobID)},
		Stage:    StateAccepted,
		TenantID: caller.TenantID,
	}
}

func (p *Pipeline) advance(from, to State, caller CallerContext) State {
	p.logger.Debug("admission transition",
		zap.Stringer("from", from),
		zap.Stringer("to", to),
		zap.String("tenant_id", caller.TenantID),
	)
	return to
}

func (p *Pipeline) reject(at State, tenantID string, rej *Rejection) Decision {
	fields := []zap.Field{
		zap.Stringer("stage", at),
		zap.String("reason", string(rej.Reason)),
		zap.Int("status", rej.Status),
		zap.String("tenant_id", tenantID),
	}
	if rej.Status >= http.StatusInternalServerError {
		p.logger.Error("crawl submission failed", append(fields, zap.Error(rej))...)
	} else {
		p.logger.Info("crawl submission rejected", fields...)
	}
	return Decision{Rejection: rej, Stage: at, TenantID: tenantID}
}

func (p *Pipeline) release(ctx context.Context, hold CreditHold) {
	if err := p.deps.Quota.Release(context.WithoutCancel(ctx), hold); err != nil {
		p.logger.Error("release credit hold failed",
			zap.String("tenant_id", hold.TenantID),
			zap.String("hold_id", hold.ID),
			zap.Error(err),
		)
	}
}

func timed[T any](stage State, fn func() (T, error)) (T, error) {
	start := time.Now()
	out, err := fn()
	metrics.ObserveStage(stage.String(), time.Since(start))
	return out, err
}
