package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryPage is an in-memory Page used in place of a real browser or HTTP page.
type MemoryPage struct {
	PageURL     string
	PageTitle   string
	Ready       bool     // whether the results container is present
	Nodes       []string // inner markup returned by QueryAll
	Markup      []byte
	SnapshotErr error

	mu     sync.Mutex
	closed bool
}

func (p *MemoryPage) URL() string {
	return p.PageURL
}

func (p *MemoryPage) Title(_ context.Context) (string, error) {
	return p.PageTitle, nil
}

func (p *MemoryPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if p.Ready {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("%w: %q after %s", SelectorTimeoutError, selector, timeout)
	}
}

func (p *MemoryPage) QueryAll(_ context.Context, _ string) ([]string, error) {
	out := make([]string, len(p.Nodes))
	copy(out, p.Nodes)
	return out, nil
}

func (p *MemoryPage) Snapshot(_ context.Context) ([]byte, error) {
	if p.SnapshotErr != nil {
		return nil, p.SnapshotErr
	}
	return p.Markup, nil
}

func (p *MemoryPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *MemoryPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// MemoryFetcher serves MemoryPages by URL and records how it was called.
type MemoryFetcher struct {
	// Delay is applied to every fetch to keep requests in flight.
	Delay time.Duration

	mu       sync.Mutex
	pages    map[string]*MemoryPage
	failures map[string][]error
	calls    map[string]int
	proxies  map[string][]string
	inFlight int
	peak     int
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{
		pages:    make(map[string]*MemoryPage),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
		proxies:  make(map[string][]string),
	}
}

func (f *MemoryFetcher) AddPage(p *MemoryPage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[p.PageURL] = p
}

// FailNext makes the next len(errs) fetches of url return the given errors in order.
func (f *MemoryFetcher) FailNext(url string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[url] = append(f.failures[url], errs...)
}

func (f *MemoryFetcher) Fetch(ctx context.Context, url string, proxy string) (Page, error) {
	f.mu.Lock()
	f.calls[url]++
	f.proxies[url] = append(f.proxies[url], proxy)
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.Delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if errs := f.failures[url]; len(errs) > 0 {
		f.failures[url] = errs[1:]
		err := errs[0]
		if !errors.Is(err, FetchFailureError) {
			err = fmt.Errorf("%w: %v", FetchFailureError, err)
		}
		return nil, err
	}
	p, ok := f.pages[url]
	if !ok {
		return nil, fmt.Errorf("%w: status code 404", FetchFailureError)
	}
	return p, nil
}

func (f *MemoryFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *MemoryFetcher) Proxies(url string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.proxies[url]))
	copy(out, f.proxies[url])
	return out
}

// PeakInFlight is the highest number of concurrent Fetch calls observed.
func (f *MemoryFetcher) PeakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}
