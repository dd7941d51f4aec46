// Package fetcher defines the page handle the crawler works against and its implementations.
package fetcher

import (
	"context"
	"errors"
	"time"
)

var (
	FetchFailureError    = errors.New("fetch failed")
	SelectorTimeoutError = errors.New("timed out waiting for selector")
)

// Page is a fetched page. Implementations are used by a single request at a time.
type Page interface {
	URL() string
	Title(ctx context.Context) (string, error)
	// WaitForSelector returns SelectorTimeoutError when nothing matches selector within timeout.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// QueryAll returns the inner markup of every node matching selector.
	QueryAll(ctx context.Context, selector string) ([]string, error)
	// Snapshot returns the page markup for diagnostics.
	Snapshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Fetcher loads a URL through the given proxy. An empty proxy means a direct connection.
// Network, proxy and status errors are wrapped in FetchFailureError.
type Fetcher interface {
	Fetch(ctx context.Context, url string, proxy string) (Page, error)
}
