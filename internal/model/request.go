package model

type RequestState int

const (
	StatePending RequestState = iota
	StateInFlight
	StateRetrying
	StateCompleted
	StateDropped
	// StateFailed is terminal without retries, e.g. the primary sink rejected the posts.
	StateFailed
)

func (s RequestState) String() string {
	return [...]string{"pending", "in flight", "retrying", "completed", "dropped", "failed"}[s]
}

func (s RequestState) Terminal() bool {
	return s == StateCompleted || s == StateDropped || s == StateFailed
}

// Request carries the retry state of one URL through the queue.
type Request struct {
	URL       string
	Attempts  int // executions started so far
	State     RequestState
	SessionID string // session used by the last attempt
	LastErr   error
}

func NewRequest(url string) *Request {
	return &Request{URL: url, State: StatePending}
}

func (r *Request) RetryCount() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}
