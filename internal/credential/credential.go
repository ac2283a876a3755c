// Package credential manages the scraper API key pool: selection order,
// failure classification, and the rotation policy.
package credential

import (
	"errors"
	"strings"

	"stock-count-alerts/internal/storage"
)

var (
	// ErrNoCredentials indicates the active pool is empty.
	ErrNoCredentials = errors.New("credential: no active credentials available")
	// ErrAllExhausted indicates every credential in the pool hit an
	// auth/quota failure for the same target.
	ErrAllExhausted = errors.New("credential: all credentials exhausted")
)

// Kind classifies a scrape failure.
type Kind int

const (
	// KindTarget is a site-side problem (network error, non-auth HTTP
	// status, unparseable content). Rotation stops: retrying with a
	// different key would only mask it.
	KindTarget Kind = iota
	// KindCredential is an auth/quota/rate-limit problem with the key
	// itself. The next credential in the pool is tried for the same target.
	KindCredential
)

func (k Kind) String() string {
	if k == KindCredential {
		return "credential"
	}
	return "target"
}

// classifierRule is one declarative predicate over status code and body text.
type classifierRule struct {
	match func(status int, body string) bool
	kind  Kind
}

var exhaustionMarkers = []string{
	"quota",
	"credit",
	"limit",
	"unauthorized",
	"invalid",
	"expired",
}

// Classifier rules are evaluated in order; the first match decides.
// Combined signal: HTTP status first, then case-insensitive substrings.
var classifierRules = []classifierRule{
	{
		match: func(status int, _ string) bool {
			switch status {
			case 401, 402, 403, 429:
				return true
			}
			return false
		},
		kind: KindCredential,
	},
	{
		match: func(_ int, body string) bool {
			lowered := strings.ToLower(body)
			for _, marker := range exhaustionMarkers {
				if strings.Contains(lowered, marker) {
					return true
				}
			}
			return false
		},
		kind: KindCredential,
	},
}

// Classify maps an upstream failure to a rotation decision. Status 0 means
// no HTTP response was received (network error).
func Classify(status int, body string) Kind {
	for _, rule := range classifierRules {
		if rule.match(status, body) {
			return rule.kind
		}
	}
	return KindTarget
}

// Select returns the next candidate credential not yet failed for the
// current target. Pool order is least-recently-used first (the storage
// query's responsibility).
func Select(pool []storage.Credential, failed map[string]bool) (*storage.Credential, error) {
	if len(pool) == 0 {
		return nil, ErrNoCredentials
	}
	for i := range pool {
		if failed[pool[i].ID] {
			continue
		}
		return &pool[i], nil
	}
	return nil, ErrAllExhausted
}

// SelectFrom behaves like Select but starts scanning at offset, wrapping
// around the pool. Distinct concurrent targets pass distinct offsets so they
// prefer distinct credentials when the pool is large enough.
func SelectFrom(pool []storage.Credential, failed map[string]bool, offset int) (*storage.Credential, error) {
	if len(pool) == 0 {
		return nil, ErrNoCredentials
	}
	n := len(pool)
	for i := 0; i < n; i++ {
		cred := &pool[(offset+i)%n]
		if failed[cred.ID] {
			continue
		}
		return cred, nil
	}
	return nil, ErrAllExhausted
}
