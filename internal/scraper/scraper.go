package scraper

import (
	"context"
	"errors"
	"fmt"

	"stock-count-alerts/internal/credential"
)

// CountFetcher retrieves the item count for a target page using one
// credential. Implementations must not retry internally; rotation and
// interval spacing belong to the caller.
type CountFetcher interface {
	FetchCount(ctx context.Context, targetURL, apiKey string) (int, error)
}

// Error is a classified scrape failure.
type Error struct {
	Kind   credential.Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("scrape failed (%s, status %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("scrape failed (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FailureKind extracts the classification from a scrape error. Unclassified
// errors count as target failures, never as credential problems.
func FailureKind(err error) credential.Kind {
	var scrapeErr *Error
	if errors.As(err, &scrapeErr) {
		return scrapeErr.Kind
	}
	return credential.KindTarget
}
