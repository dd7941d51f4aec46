package session

import "sync"

type Status int

const (
	StatusHealthy Status = iota
	StatusRetiring
	StatusDead
)

func (s Status) String() string {
	return [...]string{"healthy", "retiring", "dead"}[s]
}

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	// OutcomeFailure is a terminal fetch failure: the session is not reused.
	OutcomeFailure
)

// Session is one proxy identity. It is owned by the Pool and borrowed for a single request.
type Session struct {
	ID    string
	Proxy string // empty means a direct connection

	mu       sync.Mutex
	usage    int
	maxUsage int
	status   Status
	borrowed bool
}

func (s *Session) UsageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Session) MaxUsageCount() int {
	return s.maxUsage
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
