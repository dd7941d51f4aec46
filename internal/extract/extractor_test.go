package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/listing-crawler/internal/fetcher"
	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string][]byte
	err   error
}

func (s *memoryStore) Save(_ context.Context, key string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[string][]byte)
	}
	s.items[key] = content
	return nil
}

const pageUrl = "https://sfbay.craigslist.org/search/sss"

func TestExtract_PostsPairedWithTitle(t *testing.T) {
	store := &memoryStore{}
	page := &fetcher.MemoryPage{
		PageURL:   pageUrl,
		PageTitle: "sfbay for sale",
		Ready:     true,
		Nodes:     []string{"<a>Bike</a>", "<a>Desk</a>"},
		Markup:    []byte("<html></html>"),
	}

	posts, snap, err := New(store).Extract(context.Background(), page, pageUrl)
	require.NoError(t, err)

	assert.Equal(t, []model.CraigslistPost{
		{Content: "<a>Bike</a>", Title: "sfbay for sale"},
		{Content: "<a>Desk</a>", Title: "sfbay for sale"},
	}, posts)
	assert.Equal(t, "https___sfbay.craigslist.org_search_sss", snap.Key)
	assert.True(t, snap.Saved)
	assert.Equal(t, []byte("<html></html>"), store.items[snap.Key])
}

func TestExtract_ZeroPostsIsNotAnError(t *testing.T) {
	page := &fetcher.MemoryPage{PageURL: pageUrl, Ready: true}

	posts, _, err := New(nil).Extract(context.Background(), page, pageUrl)
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
}

func TestExtract_WaitTimeout(t *testing.T) {
	page := &fetcher.MemoryPage{PageURL: pageUrl, Ready: false}

	start := time.Now()
	_, _, err := New(nil, WithWaitTimeout(30*time.Millisecond)).Extract(context.Background(), page, pageUrl)

	assert.ErrorIs(t, err, ExtractionTimeoutError)
	assert.ErrorIs(t, err, fetcher.SelectorTimeoutError)
	assert.Less(t, time.Since(start), time.Second)
}

func TestExtract_CancelledContextIsNotATimeout(t *testing.T) {
	page := &fetcher.MemoryPage{PageURL: pageUrl, Ready: false}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := New(nil).Extract(ctx, page, pageUrl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ExtractionTimeoutError)
}

func TestExtract_SnapshotFailuresAreNotFatal(t *testing.T) {
	t.Run("capture", func(t *testing.T) {
		page := &fetcher.MemoryPage{PageURL: pageUrl, Ready: true, Nodes: []string{"x"},
			SnapshotErr: errors.New("screenshot failed")}
		posts, snap, err := New(&memoryStore{}).Extract(context.Background(), page, pageUrl)
		require.NoError(t, err)
		assert.Len(t, posts, 1)
		assert.False(t, snap.Saved)
	})
	t.Run("store", func(t *testing.T) {
		page := &fetcher.MemoryPage{PageURL: pageUrl, Ready: true, Nodes: []string{"x"}}
		posts, snap, err := New(&memoryStore{err: errors.New("store down")}).Extract(context.Background(), page, pageUrl)
		require.NoError(t, err)
		assert.Len(t, posts, 1)
		assert.False(t, snap.Saved)
	})
}

func TestSnapshotKey(t *testing.T) {
	assert.Equal(t, "http___a.b_c?d=e", SnapshotKey("http://a.b/c?d=e"))
}
