// Package urlcheck validates and canonicalizes crawl target URLs.
package urlcheck

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when a URL cannot be used as a crawl target.
var ErrInvalidURL = errors.New("invalid url")

// Normalizer implements admission.URLNormalizer.
type Normalizer struct{}

// New returns a Normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Normalize canonicalizes rawURL. See NormalizeURL.
func (Normalizer) Normalize(rawURL string) (string, error) {
	return NormalizeURL(rawURL)
}

// NormalizeURL standardizes a URL to avoid duplicates.
// A missing scheme defaults to http. It lowercases the scheme and host,
// removes default ports, sorts query parameters and drops the fragment.
// Only http and https URLs with a host are accepted.
func NormalizeURL(rawURL string) (string, error) {
	candidate := strings.TrimSpace(rawURL)
	if candidate == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(candidate, "://") {
		candidate = "http://" + candidate
	}

	u, err := url.Parse(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	u.Host = strings.ToLower(u.Host)
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if strings.ContainsAny(u.Hostname(), " \t") {
		return "", fmt.Errorf("%w: malformed host", ErrInvalidURL)
	}

	// Remove default ports
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}
