package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const maxBodySize = 10 * 1024 * 1024

// HttpFetcher loads pages with a plain HTTP client and parses them with goquery.
// Waiting for a selector re-requests the page until it matches or the timeout elapses.
type HttpFetcher struct {
	base         *http.Client
	userAgent    string
	headless     bool
	pollInterval time.Duration

	clients sync.Map // proxy URL -> *http.Client
}

type Option func(*HttpFetcher)

func WithUserAgent(ua string) Option {
	return func(f *HttpFetcher) {
		f.userAgent = ua
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(f *HttpFetcher) {
		f.pollInterval = d
	}
}

// WithHeadless records the fetch mode. Plain HTTP fetching never opens a UI.
func WithHeadless(headless bool) Option {
	return func(f *HttpFetcher) {
		f.headless = headless
	}
}

func NewHttpFetcher(base *http.Client, opts ...Option) *HttpFetcher {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	f := &HttpFetcher{
		base:         base,
		headless:     true,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	if !f.headless {
		slog.Warn("headful mode is not supported by the http fetcher. Running headless.")
	}
	return f
}

func (f *HttpFetcher) Fetch(ctx context.Context, pageUrl string, proxy string) (Page, error) {
	client, err := f.clientFor(proxy)
	if err != nil {
		return nil, err
	}
	p := &httpPage{
		url:          pageUrl,
		pollInterval: f.pollInterval,
		load: func(ctx context.Context) (*goquery.Document, []byte, error) {
			return f.load(ctx, client, pageUrl)
		},
	}
	p.doc, p.body, err = p.load(ctx)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (f *HttpFetcher) load(ctx context.Context, client *http.Client, pageUrl string) (*goquery.Document, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageUrl, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create request: %v", FetchFailureError, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", FetchFailureError, err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			slog.Warn("failed to close the response body.", slog.String("err", err.Error()))
		}
	}()

	if !isSuccess(resp.StatusCode) {
		return nil, nil, fmt.Errorf("%w: status code %d", FetchFailureError, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read body: %v", FetchFailureError, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse html: %v", FetchFailureError, err)
	}

	return doc, body, nil
}

func (f *HttpFetcher) clientFor(proxy string) (*http.Client, error) {
	if proxy == "" {
		return f.base, nil
	}
	if c, ok := f.clients.Load(proxy); ok {
		return c.(*http.Client), nil
	}

	proxyUrl, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid proxy url: %v", FetchFailureError, err)
	}
	var transport *http.Transport
	if t, ok := f.base.Transport.(*http.Transport); ok && t != nil {
		transport = t.Clone()
	} else {
		transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	transport.Proxy = http.ProxyURL(proxyUrl)

	c := &http.Client{Transport: transport, Timeout: f.base.Timeout}
	actual, _ := f.clients.LoadOrStore(proxy, c)
	return actual.(*http.Client), nil
}

type httpPage struct {
	url          string
	pollInterval time.Duration
	load         func(ctx context.Context) (*goquery.Document, []byte, error)
	doc          *goquery.Document
	body         []byte
}

func (p *httpPage) URL() string {
	return p.url
}

func (p *httpPage) Title(_ context.Context) (string, error) {
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *httpPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		if p.doc.Find(selector).Length() > 0 {
			return nil
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %q after %s", SelectorTimeoutError, selector, timeout)
		case <-ticker.C:
			doc, body, err := p.load(waitCtx)
			if err != nil {
				slog.Debug("failed to reload the page while waiting for selector.", slog.String("url", p.url),
					slog.String("err", err.Error()))
				continue
			}
			p.doc, p.body = doc, body
		}
	}
}

func (p *httpPage) QueryAll(_ context.Context, selector string) ([]string, error) {
	nodes := p.doc.Find(selector)
	out := make([]string, 0, nodes.Length())
	var err error
	nodes.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var inner string
		inner, err = s.Html()
		if err != nil {
			return false
		}
		out = append(out, inner)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *httpPage) Snapshot(_ context.Context) ([]byte, error) {
	out := make([]byte, len(p.body))
	copy(out, p.body)
	return out, nil
}

func (p *httpPage) Close() error {
	p.doc = nil
	p.body = nil
	return nil
}

func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
