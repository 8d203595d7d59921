package rpa

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"swarmd/internal/eventbus"
	logx "swarmd/pkg/logx"
)

// Runner performs the actual side effect for one job attempt. A nil
// return means the attempt succeeded; any error is treated as a
// transient failure unless wrapped with NoRetry.
type Runner func(ctx context.Context, job Job) error

// Scheduler executes job batches under the configured policy. It is
// safe for reuse across batches; per-domain pacing state carries over
// between Run calls.
type Scheduler struct {
	policy  Policy
	log     logx.Logger
	bus     eventbus.Bus
	domains *domainPacer
}

func New(policy Policy, log logx.Logger, bus eventbus.Bus) *Scheduler {
	policy = policy.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		policy:  policy,
		log:     log,
		bus:     bus,
		domains: newDomainPacer(policy.PerDomainInterval),
	}
}

// Policy returns the scheduler's run configuration.
func (s *Scheduler) Policy() Policy { return s.policy }

// Run executes the batch and blocks until every job is terminal (or ctx
// is canceled, in which case unfinished jobs are reported as failed).
//
// At most MaxConcurrentBrowsers jobs hold an execution slot at once. A
// job keeps its slot for its whole lifetime, including retry backoff
// sleeps and per-domain pacing waits.
func (s *Scheduler) Run(ctx context.Context, jobs []Job, run Runner) (Result, error) {
	if run == nil {
		return Result{}, ErrNoRunner
	}
	res := Result{OK: true, Outcomes: make(map[string]JobOutcome, len(jobs))}
	if len(jobs) == 0 {
		return res, nil
	}

	workers := s.policy.MaxConcurrentBrowsers
	if workers > len(jobs) {
		workers = len(jobs)
	}

	queue := make(chan Job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	var (
		mu       sync.Mutex
		inFlight int32
		maxSeen  int32
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxSeen)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
						break
					}
				}

				out := s.execOne(ctx, job, run)
				atomic.AddInt32(&inFlight, -1)

				mu.Lock()
				res.Outcomes[job.ID] = out
				res.AttemptsTotal += out.Attempts
				if out.Succeeded {
					res.JobsSucceeded++
				} else {
					res.JobsFailed++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	res.MaxConcurrencySeen = int(atomic.LoadInt32(&maxSeen))
	res.OK = res.JobsFailed == 0
	return res, nil
}

func (s *Scheduler) execOne(ctx context.Context, job Job, run Runner) JobOutcome {
	start := time.Now()
	s.log.Debug("job.started", logx.String("job", job.ID), logx.String("domain", job.Domain))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.started", Time: start, Data: JobEvent{ID: job.ID, Domain: job.Domain, Started: start}})
	}

	maxAttempts := 1 + s.policy.MaxRetries
	attempts := 0
	var err error

attemptLoop:
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Pacing gates every attempt start on the domain: a retry hits
		// the same resource again.
		if werr := s.domains.wait(ctx, job.Domain); werr != nil {
			err = werr
			break
		}

		attempts++
		// Convert runner panics to failures so one bad job can't kill a
		// worker or poison the batch.
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
					s.log.Error("job.panic", logx.String("job", job.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			err = run(ctx, job)
		}()
		if err == nil {
			break
		}

		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt+1 >= maxAttempts {
			break
		}

		delay := backoffDelay(s.policy, attempt)
		if delay > 0 {
			s.log.Debug("job retry scheduled", logx.String("job", job.ID), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Any("err", err))
			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				err = ctx.Err()
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	dur := time.Since(start)
	if err != nil {
		s.log.Warn("job.failed", logx.String("job", job.ID), logx.String("domain", job.Domain), logx.Any("err", err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: "job.failed", Time: time.Now(), Data: JobEvent{ID: job.ID, Domain: job.Domain, Started: start, Duration: dur, Attempts: attempts, Error: err.Error()}})
		}
		return JobOutcome{Attempts: attempts, Error: err.Error()}
	}

	s.log.Debug("job.completed", logx.String("job", job.ID), logx.String("domain", job.Domain), logx.Duration("dur", dur), logx.Int("attempts", attempts))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "job.finished", Time: time.Now(), Data: JobEvent{ID: job.ID, Domain: job.Domain, Started: start, Duration: dur, Attempts: attempts}})
	}
	return JobOutcome{Succeeded: true, Attempts: attempts}
}

// backoffDelay returns the sleep inserted after the given zero-based
// failed attempt: min(base * 2^attempt, max). A zero base disables
// backoff; a zero max leaves the doubling uncapped.
func backoffDelay(p Policy, attempt int) time.Duration {
	d := p.FailureBackoffBase
	if d <= 0 {
		return 0
	}
	maxD := p.FailureBackoffMax
	for i := 0; i < attempt; i++ {
		d *= 2
		if maxD > 0 && d >= maxD {
			return maxD
		}
	}
	if maxD > 0 && d > maxD {
		d = maxD
	}
	return d
}
