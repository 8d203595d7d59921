package rpa

import (
	"time"
)

// Job is one immutable unit of schedulable work. Domain is the
// rate-limiting resource key (typically the target host); Command is an
// opaque invocation interpreted by the runner.
type Job struct {
	ID      string `json:"id"`
	Domain  string `json:"domain"`
	Command string `json:"command"`
}

// Policy is the immutable run configuration. There are no hidden
// defaults beyond the documented backoff formula; zero values mean
// "feature off" (no pacing, no retries, no backoff cap) except
// MaxConcurrentBrowsers, which is clamped to at least one worker.
type Policy struct {
	MaxConcurrentBrowsers int           `json:"max_concurrent_browsers"`
	PerDomainInterval     time.Duration `json:"per_domain_interval"`
	FailureBackoffBase    time.Duration `json:"failure_backoff_base"`
	FailureBackoffMax     time.Duration `json:"failure_backoff_max"`
	MaxRetries            int           `json:"max_retries"`
}

func (p Policy) withDefaults() Policy {
	if p.MaxConcurrentBrowsers <= 0 {
		p.MaxConcurrentBrowsers = 1
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

// JobOutcome is the terminal result for one job within a batch.
type JobOutcome struct {
	Succeeded bool   `json:"succeeded"`
	Attempts  int    `json:"attempts"`
	Error     string `json:"error,omitempty"`
}

// Result aggregates one batch run. OK is true iff no job exhausted its
// retries.
type Result struct {
	OK                 bool                  `json:"ok"`
	JobsSucceeded      int                   `json:"jobs_succeeded"`
	JobsFailed         int                   `json:"jobs_failed"`
	AttemptsTotal      int                   `json:"attempts_total"`
	MaxConcurrencySeen int                   `json:"max_concurrency_seen"`
	Outcomes           map[string]JobOutcome `json:"outcomes,omitempty"`
}

// JobEvent is published on the bus for job lifecycle events
// (job.started, job.finished, job.failed).
type JobEvent struct {
	ID       string        `json:"id"`
	Domain   string        `json:"domain,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Error    string        `json:"error,omitempty"`
}
