// Package canonical turns raw source items into normalized Candidates.
// It is pure: no I/O, no store access.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"OsintAggregator/internal/domain"
)

// trackingParams are stripped before hashing so re-discoveries of the
// same article through different campaigns collapse to one identity.
var trackingParams = map[string]bool{
	"fbclid":   true,
	"gclid":    true,
	"mc_cid":   true,
	"mc_eid":   true,
	"ref":      true,
	"source":   true,
	"utm":      true,
	"igshid":   true,
	"referrer": true,
}

// Normalize rewrites a URL into its canonical form: google-alert redirect
// unwrapped, scheme/host lower-cased, default port and tracking query
// parameters stripped, fragment and trailing slash removed.
func Normalize(raw string) (string, error) {
	raw = unwrapGoogleRedirect(strings.TrimSpace(raw))

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("not an absolute http(s) url: %q", raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, defaultPort(u.Scheme))
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	query := u.Query()
	for key := range query {
		if trackingParams[strings.ToLower(key)] || strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// IdentityKey hashes a normalized URL into the stable dedup key.
func IdentityKey(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// Candidate builds a Candidate from a raw item, or an error when the URL
// is unusable. Callers log and drop such items; they never halt a batch.
func Candidate(item domain.RawItem, origin string, discoveredAt time.Time) (domain.Candidate, error) {
	normalized, err := Normalize(item.URL)
	if err != nil {
		return domain.Candidate{}, err
	}

	return domain.Candidate{
		IdentityKey:  IdentityKey(normalized),
		URL:          normalized,
		Title:        strings.TrimSpace(item.Title),
		Snippet:      strings.TrimSpace(item.Snippet),
		Origin:       origin,
		PublishedAt:  item.PublishedAt,
		DiscoveredAt: discoveredAt,
	}, nil
}

// unwrapGoogleRedirect extracts the destination from a Google Alert
// redirect link (https://www.google.com/url?...&url=<real>).
func unwrapGoogleRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if !strings.HasSuffix(strings.ToLower(u.Hostname()), "google.com") || u.Path != "/url" {
		return raw
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	return raw
}

func defaultPort(scheme string) string {
	if scheme == "https" {
		return ":443"
	}
	return ":80"
}
