package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IliaW/listing-crawler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_CreatesUpToPoolSize(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationRecycle, PoolSize: 2, MaxUsageCount: 5}, nil, nil)
	ctx := context.Background()

	s1, err := p.Acquire(ctx)
	require.NoError(t, err)
	s2, err := p.Acquire(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)
	assert.Equal(t, 2, p.Live())

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "third acquire must wait for a release")
}

func TestPool_AcquireWaitsForRelease(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationUntilFailure, PoolSize: 1}, nil, nil)
	s, err := p.Acquire(context.Background())
	require.NoError(t, err)

	got := make(chan *Session, 1)
	go func() {
		s2, err := p.Acquire(context.Background())
		if err == nil {
			got <- s2
		}
	}()

	select {
	case <-got:
		t.Fatal("acquire returned while the only session was borrowed")
	case <-time.After(30 * time.Millisecond):
	}

	p.Release(s, OutcomeSuccess)
	select {
	case s2 := <-got:
		assert.Equal(t, s.ID, s2.ID, "healthy session is reused")
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake up after release")
	}
}

func TestPool_RetiresOnMaxUsage(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationRecycle, PoolSize: 1, MaxUsageCount: 2}, nil, nil)
	ctx := context.Background()

	s, _ := p.Acquire(ctx)
	p.Release(s, OutcomeSuccess)
	assert.Equal(t, StatusHealthy, s.Status())

	again, _ := p.Acquire(ctx)
	require.Same(t, s, again)
	p.Release(again, OutcomeSuccess)

	assert.Equal(t, StatusRetiring, s.Status())
	assert.Equal(t, 2, s.UsageCount())
	assert.Equal(t, 0, p.Live())

	fresh, _ := p.Acquire(ctx)
	assert.NotEqual(t, s.ID, fresh.ID)
	assert.Equal(t, 2, p.Created())
}

func TestPool_FailureKillsSession(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationUntilFailure, PoolSize: 1}, []string{"http://proxy-a:8080", "http://proxy-b:8080"}, nil)
	ctx := context.Background()

	s, _ := p.Acquire(ctx)
	assert.Equal(t, "http://proxy-a:8080", s.Proxy)
	p.Release(s, OutcomeFailure)
	assert.Equal(t, StatusDead, s.Status())
	assert.Equal(t, 0, p.Live())

	replacement, _ := p.Acquire(ctx)
	assert.NotEqual(t, s.ID, replacement.ID)
	assert.Equal(t, "http://proxy-b:8080", replacement.Proxy)
}

func TestPool_UnlimitedUsageNeverRetires(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationRecommended, PoolSize: 1}, nil, nil)
	ctx := context.Background()

	first, _ := p.Acquire(ctx)
	p.Release(first, OutcomeSuccess)
	for i := 0; i < 100; i++ {
		s, _ := p.Acquire(ctx)
		require.Same(t, first, s)
		p.Release(s, OutcomeSuccess)
	}
	assert.Equal(t, 101, first.UsageCount())
	assert.Equal(t, 1, p.Created())
}

func TestPool_ConcurrentInvariants(t *testing.T) {
	const maxUsage = 3
	p := NewPool(Policy{Mode: model.RotationRecycle, PoolSize: 3, MaxUsageCount: maxUsage}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				s, err := p.Acquire(context.Background())
				if err != nil {
					t.Error(err)
					return
				}
				if s.UsageCount() >= maxUsage {
					t.Errorf("borrowed session %s already used %d times", s.ID, s.UsageCount())
				}
				outcome := OutcomeSuccess
				if (i+j)%7 == 0 {
					outcome = OutcomeFailure
				}
				p.Release(s, outcome)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, p.PeakLive(), 3)
}

func TestPool_UntilFailureHoldsOneSession(t *testing.T) {
	p := NewPool(Policy{Mode: model.RotationUntilFailure, PoolSize: 1}, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := p.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			outcome := OutcomeSuccess
			if i%3 == 0 {
				outcome = OutcomeFailure
			}
			p.Release(s, outcome)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, p.PeakLive())
}
