// Package blocklist rejects crawl targets on disallowed domains.
package blocklist

import "strings"

// SocialMedia is the default set of disallowed domains.
var SocialMedia = []string{
	"facebook.com",
	"x.com",
	"twitter.com",
	"instagram.com",
	"linkedin.com",
	"pinterest.com",
	"snapchat.com",
	"tiktok.com",
	"reddit.com",
	"tumblr.com",
	"flickr.com",
	"whatsapp.com",
	"wechat.com",
	"telegram.org",
}

// Filter matches raw URLs against domain suffix patterns. An entry blocks the
// domain itself and every subdomain; "*.example.com" and ".example.com" are
// accepted as aliases of "example.com".
type Filter struct {
	suffixes      []string
	allowKeywords []string
}

// New builds a Filter. URLs containing any of allowKeywords are never blocked.
func New(patterns []string, allowKeywords []string) *Filter {
	f := &Filter{}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		value = strings.TrimPrefix(value, "*.")
		value = strings.TrimPrefix(value, ".")
		if value != "" {
			f.addSuffix(value)
		}
	}
	for _, kw := range allowKeywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			f.allowKeywords = append(f.allowKeywords, kw)
		}
	}
	return f
}

func (f *Filter) addSuffix(suffix string) {
	for _, existing := range f.suffixes {
		if existing == suffix {
			return
		}
	}
	f.suffixes = append(f.suffixes, suffix)
}

// IsBlocked reports whether rawURL, exactly as the caller supplied it, points
// at a blocked host. The URL is not normalized first; host extraction never
// fails, so malformed input still gets matched.
func (f *Filter) IsBlocked(rawURL string) bool {
	if f == nil || len(f.suffixes) == 0 {
		return false
	}
	for _, kw := range f.allowKeywords {
		if strings.Contains(rawURL, kw) {
			return false
		}
	}
	host := RawHost(rawURL)
	if host == "" {
		return false
	}
	for _, suffix := range f.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// RawHost extracts the lowercased host portion of a URL string without
// parsing it: scheme, userinfo, port and everything from the first path,
// query or fragment delimiter are dropped. Trailing dots are kept.
func RawHost(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	} else {
		s = strings.TrimPrefix(s, "//")
	}
	if i := strings.IndexAny(s, `/?#\`); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, "@"); i >= 0 {
		s = s[i+1:]
	}
	if strings.HasPrefix(s, "[") {
		if i := strings.Index(s, "]"); i >= 0 {
			return strings.ToLower(s[1:i])
		}
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}
