package engine

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ValidateURL accepts only http/https URLs with a host that is not loopback
// or inside one of the private prefixes. The private-range test is a string
// prefix match; it deters obvious SSRF targets and is not exhaustive.
func (e *Engine) ValidateURL(raw string) error {
	if raw == "" {
		return errors.New("URL is empty or not a string")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed URL: %v", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL scheme: %q (only http/https allowed)", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return errors.New("URL missing domain/host")
	}
	if blockedHosts[host] {
		return fmt.Errorf("access to %s is blocked for security reasons", host)
	}
	for _, prefix := range privateHostPrefixes {
		if strings.HasPrefix(host, prefix) {
			return errors.New("access to private IP range is blocked")
		}
	}
	return nil
}

// CheckURLRateLimit enforces max_url_calls_per_domain over a sliding window of
// url_call_window_seconds. On success the call is recorded, so two checks for
// the same URL consume two slots.
func (e *Engine) CheckURLRateLimit(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.New("cannot parse domain from URL")
	}
	domain := u.Host
	window := e.cfg.URLCallWindow()
	limit := e.cfg.MaxURLCallsPerDomain

	now := e.now()
	windowStart := now.Add(-window)

	e.mu.Lock()
	defer e.mu.Unlock()

	kept := pruneBefore(e.urlCalls[domain], windowStart)
	if len(kept) >= limit {
		e.urlCalls[domain] = kept
		e.logger.Debug("url rate limit hit",
			zap.String("domain", domain),
			zap.Int("calls", len(kept)),
		)
		return fmt.Errorf("rate limit exceeded for %s: %d calls in %s (max: %d)",
			domain, len(kept), window.Truncate(time.Second), limit)
	}
	e.urlCalls[domain] = append(kept, now)
	return nil
}

// pruneBefore keeps the timestamps strictly after cutoff, reusing calls' backing array.
func pruneBefore(calls []time.Time, cutoff time.Time) []time.Time {
	kept := calls[:0]
	for _, t := range calls {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
