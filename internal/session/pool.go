package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/IliaW/listing-crawler/internal/telemetry"
	"github.com/google/uuid"
)

// Pool owns a bounded set of sessions. Acquire blocks while every live session is borrowed
// and the pool is at its size limit. Dead and retired sessions are replaced lazily.
type Pool struct {
	policy  Policy
	proxies []string
	metrics *telemetry.SessionMetrics

	mu       sync.Mutex
	live     []*Session
	next     int
	wake     chan struct{}
	created  int
	peakLive int
}

func NewPool(policy Policy, proxies []string, metrics *telemetry.SessionMetrics) *Pool {
	if metrics == nil {
		metrics = telemetry.Noop().SessionMetrics
	}
	return &Pool{
		policy:  policy,
		proxies: proxies,
		metrics: metrics,
		wake:    make(chan struct{}),
	}
}

func (p *Pool) Policy() Policy {
	return p.policy
}

// Acquire borrows a healthy idle session, creating one if the pool has room.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		p.mu.Lock()
		if s := p.idle(); s != nil {
			p.mu.Unlock()
			return s, nil
		}
		if len(p.live) < p.policy.PoolSize {
			s := p.create()
			p.mu.Unlock()
			return s, nil
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

// Release returns a borrowed session and records the outcome of the request made through it.
func (p *Pool) Release(s *Session, outcome Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.mu.Lock()
	s.borrowed = false
	s.usage++
	switch {
	case outcome == OutcomeFailure:
		s.status = StatusDead
	case s.maxUsage > 0 && s.usage >= s.maxUsage:
		s.status = StatusRetiring
	}
	status := s.status
	usage := s.usage
	s.mu.Unlock()

	if status != StatusHealthy {
		p.remove(s)
		p.metrics.RetiredCnt(1)
		slog.Debug("session retired.", slog.String("session", s.ID), slog.String("status", status.String()),
			slog.Int("usage", usage))
	}

	close(p.wake)
	p.wake = make(chan struct{})
}

// Live is the number of sessions that are neither dead nor retired.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// PeakLive is the highest number of live sessions observed.
func (p *Pool) PeakLive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peakLive
}

// Created is the number of sessions created since the pool was built.
func (p *Pool) Created() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created
}

// must be called with p.mu held
func (p *Pool) idle() *Session {
	for _, s := range p.live {
		s.mu.Lock()
		if !s.borrowed && s.status == StatusHealthy {
			s.borrowed = true
			s.mu.Unlock()
			return s
		}
		s.mu.Unlock()
	}
	return nil
}

// must be called with p.mu held
func (p *Pool) create() *Session {
	s := &Session{
		ID:       uuid.New().String(),
		maxUsage: p.policy.MaxUsageCount,
		status:   StatusHealthy,
		borrowed: true,
	}
	if len(p.proxies) > 0 {
		s.Proxy = p.proxies[p.next%len(p.proxies)]
		p.next++
	}
	p.live = append(p.live, s)
	p.created++
	if len(p.live) > p.peakLive {
		p.peakLive = len(p.live)
	}
	p.metrics.CreatedCnt(1)
	slog.Debug("session created.", slog.String("session", s.ID), slog.Int("live", len(p.live)))
	return s
}

// must be called with p.mu held
func (p *Pool) remove(s *Session) {
	for i, ls := range p.live {
		if ls == s {
			p.live = append(p.live[:i], p.live[i+1:]...)
			return
		}
	}
}
