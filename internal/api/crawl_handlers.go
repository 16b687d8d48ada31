package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-admission/internal/admission"
	"github.com/JakeFAU/crawl-admission/internal/auth"
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "x-idempotency-key"

type crawlRequest struct {
	URL            string                 `json:"url"`
	CrawlerOptions admission.CrawlOptions `json:"crawlerOptions"`
	ScrapeOptions  map[string]any         `json:"scrapeOptions"`
}

type crawlResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var body crawlRequest
	malformed := false
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Debug("undecodable crawl body",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		body = crawlRequest{}
		malformed = true
	}

	req := admission.SubmissionRequest{
		TargetURL:      body.URL,
		CrawlOptions:   body.CrawlerOptions,
		ScrapeOptions:  body.ScrapeOptions,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Credentials:    r.Header.Get("Authorization"),
		Origin:         s.origin(r),
		Malformed:      malformed,
	}

	// The budget bounds the collaborators only. Whatever decision comes back
	// is the one written, so a slow store surfaces as its own rejection.
	ctx := r.Context()
	if timeout := s.cfg.RequestTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	decision := s.admitter.Admit(ctx, req)
	if !decision.Accepted {
		rej := decision.Rejection
		if rej == nil {
			rej = admission.Reject(admission.ReasonInternal, http.StatusInternalServerError, admission.MessageInternal)
		}
		if rej.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(auth.RetryAfterSeconds(rej.RetryAfter)))
		}
		writeError(w, rej.Status, rej.Message)
		return
	}

	writeJSON(w, http.StatusOK, crawlResponse{
		Success: true,
		ID:      decision.Identity.ID,
		URL:     decision.Identity.StatusURL,
	})
	if decision.Payload != nil && s.submitter != nil {
		s.submitter.Submit(context.WithoutCancel(r.Context()), *decision.Payload)
	}
}

// origin reconstructs scheme://host as addressed by the client. Forwarded
// headers are honored only when the server sits behind a trusted proxy.
func (s *Server) origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	if s.cfg.TrustProxyHeaders {
		if proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto")); proto != "" {
			scheme = strings.ToLower(proto)
		}
		if fwdHost := firstHeaderValue(r.Header.Get("X-Forwarded-Host")); fwdHost != "" {
			host = fwdHost
		}
	}
	return scheme + "://" + host
}

func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
