package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]model.CraigslistPost
	err     error
}

func (s *recordingSink) PushData(_ context.Context, _, _ string, posts []model.CraigslistPost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, posts)
	return s.err
}

type fakeForwarder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeForwarder) Name() string { return "fake" }

func (f *fakeForwarder) Forward(ctx context.Context, _ string, _ []model.CraigslistPost) error {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

var batch = []model.CraigslistPost{{Content: "<a>Bike</a>", Title: "sfbay"}}

func TestFanout_PrimaryOnly(t *testing.T) {
	sink := &recordingSink{}
	f := NewFanout("run", sink, nil)

	require.NoError(t, f.Deliver(context.Background(), "https://a", batch))
	f.Close()
	assert.Equal(t, [][]model.CraigslistPost{batch}, sink.batches)
}

func TestFanout_EmptyBatchIsPushed(t *testing.T) {
	sink := &recordingSink{}
	f := NewFanout("run", sink, nil)

	require.NoError(t, f.Deliver(context.Background(), "https://a", nil))
	require.Len(t, sink.batches, 1)
	assert.NotNil(t, sink.batches[0])
	assert.Empty(t, sink.batches[0])
}

func TestFanout_SecondaryFailureIsSwallowed(t *testing.T) {
	sink := &recordingSink{}
	fw := &fakeForwarder{err: errors.New("connection refused")}
	f := NewFanout("run", sink, nil, fw)

	require.NoError(t, f.Deliver(context.Background(), "https://a", batch))
	require.NoError(t, f.Deliver(context.Background(), "https://b", batch))
	f.Close()

	assert.Len(t, sink.batches, 2)
	assert.Equal(t, int32(2), fw.calls.Load())
}

func TestFanout_SlowSecondaryDoesNotBlock(t *testing.T) {
	sink := &recordingSink{}
	fw := &fakeForwarder{delay: 200 * time.Millisecond}
	f := NewFanout("run", sink, nil, fw)

	start := time.Now()
	require.NoError(t, f.Deliver(context.Background(), "https://a", batch))
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	f.Close()
	assert.Equal(t, int32(1), fw.calls.Load())
}

func TestFanout_PrimaryFailureIsReturnedAndSecondaryStillRuns(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	fw := &fakeForwarder{}
	f := NewFanout("run", sink, nil, fw)

	err := f.Deliver(context.Background(), "https://a", batch)
	f.Close()

	assert.ErrorIs(t, err, PrimaryDeliveryError)
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, int32(1), fw.calls.Load())
}

func TestExternalAPI_PostsJSON(t *testing.T) {
	var got []model.CraigslistPost
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	api := NewExternalAPI(srv.URL, srv.Client())
	require.NoError(t, api.Forward(context.Background(), "https://a", batch))
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, batch, got)
}

func TestExternalAPI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewExternalAPI(srv.URL, srv.Client()).Forward(context.Background(), "https://a", batch)
	assert.ErrorContains(t, err, "502")
}
