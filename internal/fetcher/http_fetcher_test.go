package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listingHTML = `<html><head><title>sfbay for sale</title></head><body>
<ul class="results">
  <li class="result-node"><a href="/1">Bike</a></li>
  <li class="result-node"><a href="/2">Desk</a></li>
</ul></body></html>`

func TestHttpFetcher_FetchAndQuery(t *testing.T) {
	var ua atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	f := NewHttpFetcher(srv.Client(), WithUserAgent("listing-crawler-test"))
	page, err := f.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)
	defer page.Close()

	assert.Equal(t, srv.URL, page.URL())
	assert.Equal(t, "listing-crawler-test", ua.Load())

	title, err := page.Title(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sfbay for sale", title)

	require.NoError(t, page.WaitForSelector(context.Background(), ".results", time.Second))

	nodes, err := page.QueryAll(context.Background(), ".result-node")
	require.NoError(t, err)
	assert.Equal(t, []string{`<a href="/1">Bike</a>`, `<a href="/2">Desk</a>`}, nodes)

	snap, err := page.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, listingHTML, string(snap))
}

func TestHttpFetcher_StatusIsFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHttpFetcher(srv.Client())
	_, err := f.Fetch(context.Background(), srv.URL, "")
	assert.ErrorIs(t, err, FetchFailureError)
}

func TestHttpFetcher_WaitForSelectorTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><title>empty</title></head><body></body></html>`))
	}))
	defer srv.Close()

	f := NewHttpFetcher(srv.Client(), WithPollInterval(10*time.Millisecond))
	page, err := f.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)

	err = page.WaitForSelector(context.Background(), ".results", 50*time.Millisecond)
	assert.ErrorIs(t, err, SelectorTimeoutError)
}

func TestHttpFetcher_WaitForSelectorReloads(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			_, _ = w.Write([]byte(`<html><body>loading</body></html>`))
			return
		}
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer srv.Close()

	f := NewHttpFetcher(srv.Client(), WithPollInterval(10*time.Millisecond))
	page, err := f.Fetch(context.Background(), srv.URL, "")
	require.NoError(t, err)

	require.NoError(t, page.WaitForSelector(context.Background(), ".results", time.Second))
	nodes, err := page.QueryAll(context.Background(), ".result-node")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestHttpFetcher_RoutesThroughProxy(t *testing.T) {
	var proxied atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied.Store(true)
		_, _ = w.Write([]byte(listingHTML))
	}))
	defer proxy.Close()

	f := NewHttpFetcher(&http.Client{Timeout: time.Second})
	page, err := f.Fetch(context.Background(), "http://sfbay.craigslist.invalid/search/sss", proxy.URL)
	require.NoError(t, err)
	assert.True(t, proxied.Load())

	nodes, err := page.QueryAll(context.Background(), ".result-node")
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestHttpFetcher_InvalidProxy(t *testing.T) {
	f := NewHttpFetcher(nil)
	_, err := f.Fetch(context.Background(), "http://example.com", "://bad")
	assert.ErrorIs(t, err, FetchFailureError)
}
