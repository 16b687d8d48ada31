// Package auth resolves bearer credentials to tenants and charges the
// per-mode rate budget.
package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/auth/ratelimit"
	"github.com/JakeFAU/crawl-admission/internal/metrics"
)

// PreviewTenant is the tenant assigned to anonymous preview callers.
const PreviewTenant = "preview"

// ErrUnknownToken is returned by a resolver that does not recognize a token.
var ErrUnknownToken = errors.New("unknown token")

// TokenResolver maps a bearer token to a tenant.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Limiter charges one request against a tenant's budget for mode.
type Limiter interface {
	Allow(ctx context.Context, tenantID string, mode admission.Mode) (ratelimit.Result, error)
}

// Options configure an Authenticator.
type Options struct {
	// AllowPreview admits credential-less callers in preview mode as PreviewTenant.
	AllowPreview bool
}

// Authenticator implements admission.Authenticator. Resolvers are tried in
// order until one recognizes the token.
type Authenticator struct {
	resolvers []TokenResolver
	limiter   Limiter
	opts      Options
	logger    *zap.Logger
}

// New constructs an Authenticator.
func New(resolvers []TokenResolver, limiter Limiter, opts Options, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{resolvers: resolvers, limiter: limiter, opts: opts, logger: logger}
}

// Authenticate resolves credentials for mode and consumes one rate unit.
func (a *Authenticator) Authenticate(
	ctx context.Context,
	credentials string,
	mode admission.Mode,
) (admission.CallerContext, error) {
	var tenantID string
	if mode == admission.ModePreview && a.opts.AllowPreview && strings.TrimSpace(credentials) == "" {
		tenantID = PreviewTenant
	} else {
		token, ok := BearerToken(credentials)
		if !ok {
			return admission.CallerContext{}, admission.Reject(
				admission.ReasonAuthFailure, http.StatusUnauthorized, admission.MessageUnauthorized)
		}
		resolved, err := a.resolve(ctx, token)
		if err != nil {
			return admission.CallerContext{}, err
		}
		tenantID = resolved
	}

	if a.limiter != nil {
		res, err := a.limiter.Allow(ctx, tenantID, mode)
		if err != nil {
			return admission.CallerContext{}, fmt.Errorf("check rate limit: %w", err)
		}
		if !res.Allowed {
			metrics.ObserveRateLimited(string(mode))
			a.logger.Info("rate limit exceeded",
				zap.String("tenant_id", tenantID),
				zap.String("mode", string(mode)),
				zap.Duration("retry_after", res.RetryAfter),
			)
			rej := admission.Reject(admission.ReasonRateLimited, http.StatusTooManyRequests,
				RateLimitMessage(res.RetryAfter))
			rej.RetryAfter = res.RetryAfter
			return admission.CallerContext{}, rej
		}
	}
	return admission.CallerContext{TenantID: tenantID, Authenticated: true}, nil
}

func (a *Authenticator) resolve(ctx context.Context, token string) (string, error) {
	for _, r := range a.resolvers {
		tenantID, err := r.Resolve(ctx, token)
		if errors.Is(err, ErrUnknownToken) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("resolve token: %w", err)
		}
		if tenantID != "" {
			return tenantID, nil
		}
	}
	return "", admission.Reject(admission.ReasonAuthFailure, http.StatusUnauthorized, admission.MessageInvalidToken)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RateLimitMessage renders the caller-facing 429 message.
func RateLimitMessage(retryAfter time.Duration) string {
	return fmt.Sprintf("Rate limit exceeded. Please retry after %ds", RetryAfterSeconds(retryAfter))
}

// RetryAfterSeconds rounds d up to whole seconds, with a minimum of one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// StaticKeys resolves tokens from a fixed token-to-tenant map.
type StaticKeys map[string]string

// Resolve implements TokenResolver.
func (k StaticKeys) Resolve(_ context.Context, token string) (string, error) {
	if tenantID, ok := k[token]; ok && tenantID != "" {
		return tenantID, nil
	}
	return "", ErrUnknownToken
}
