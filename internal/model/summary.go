package model

import "time"

type RequestFailure struct {
	URL      string `json:"url" yaml:"url"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Error    string `json:"error" yaml:"error"`
}

// RunSummary is the outcome of one crawl run.
type RunSummary struct {
	RunID      string           `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time        `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time        `json:"finished_at" yaml:"finished_at"`
	Duration   string           `json:"duration" yaml:"duration"`
	Enqueued   int              `json:"enqueued" yaml:"enqueued"`
	Completed  int              `json:"completed" yaml:"completed"`
	Dropped    int              `json:"dropped" yaml:"dropped"`
	Failed     int              `json:"failed" yaml:"failed"`
	Discarded  int              `json:"discarded" yaml:"discarded"`
	Retries    int              `json:"retries" yaml:"retries"`
	Posts      int              `json:"posts" yaml:"posts"`
	Failures   []RequestFailure `json:"failures" yaml:"failures"`
}

// Processed is the number of requests that reached a terminal state.
func (s *RunSummary) Processed() int {
	return s.Completed + s.Dropped + s.Failed
}
