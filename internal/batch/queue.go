package batch

import (
	"context"
	"errors"
	"sync"
	"time"

	"variations/internal/metrics"
	"variations/internal/orchestrator"
	"variations/internal/providers"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	ErrQueueShuttingDown = errors.New("queue shutting down")
	ErrQueueFull         = errors.New("queue full")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobNotFinished    = errors.New("job not finished")
	ErrEmptyBatch        = errors.New("batch has no requests")
)

const (
	DefaultQueueSize      = 16
	DefaultRateLimitDelay = 5 * time.Second
	DefaultRetention      = time.Hour
)

type Runner interface {
	Run(ctx context.Context, req orchestrator.Request) ([]orchestrator.Outcome, error)
}

type Notifier interface {
	Notify(clientID string, ev Event)
}

// Queue runs batch jobs one at a time, and the requests of a job strictly
// in submission order.
type Queue struct {
	runner   Runner
	notifier Notifier
	metrics  *metrics.Collector
	log      *log.Logger

	queueSize      int
	rateLimitDelay time.Duration
	retention      time.Duration
	rps            map[providers.Provider]float64

	queue chan *Job
	group errgroup.Group
	done  chan struct{}

	mu       sync.Mutex
	closing  bool
	started  bool
	jobs     map[string]*Job
	limiters map[providers.Provider]*rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Queue)

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.queueSize = n
		}
	}
}

// WithRateLimitDelay sets the pause taken after a request that was rate
// limited by its provider.
func WithRateLimitDelay(d time.Duration) Option {
	return func(q *Queue) { q.rateLimitDelay = d }
}

// WithProviderRPS paces calls to each listed provider. Unlisted providers
// are not paced.
func WithProviderRPS(rps map[providers.Provider]float64) Option {
	return func(q *Queue) { q.rps = rps }
}

func WithRetention(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.retention = d
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func withClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = fn }
}

func NewQueue(ctx context.Context, runner Runner, opts ...Option) *Queue {
	q := &Queue{
		runner:         runner,
		queueSize:      DefaultQueueSize,
		rateLimitDelay: DefaultRateLimitDelay,
		retention:      DefaultRetention,
		done:           make(chan struct{}),
		jobs:           map[string]*Job{},
		limiters:       map[providers.Provider]*rate.Limiter{},
		now:            time.Now,
		sleep:          sleepCtx,
		log:            log.With("component", "batch"),
	}
	for _, opt := range opts {
		opt(q)
	}
	for p, r := range q.rps {
		if r > 0 {
			q.limiters[p] = rate.NewLimiter(rate.Limit(r), 1)
		}
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.queue = make(chan *Job, q.queueSize)
	q.group.SetLimit(1)
	return q
}

func (q *Queue) Run() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	// Jobs still queued after cancellation run against the dead context, so
	// each of their requests is recorded as failed rather than left Pending.
	go func() {
		defer close(q.done)
		for job := range q.queue {
			q.metrics.SetQueueDepth(len(q.queue))
			q.group.Go(func() error {
				q.runJob(job)
				return nil
			})
		}
	}()
}

// Submit registers a job for reqs and returns its id. The job is Pending
// until the worker picks it up.
func (q *Queue) Submit(clientID string, reqs []orchestrator.Request) (string, error) {
	if len(reqs) == 0 {
		return "", ErrEmptyBatch
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closing {
		return "", ErrQueueShuttingDown
	}
	q.sweepLocked()

	now := q.now()
	job := &Job{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Status:    StatusPending,
		Total:     len(reqs),
		Outcomes:  make([]RequestOutcome, 0, len(reqs)),
		CreatedAt: now,
		UpdatedAt: now,
		requests:  append([]orchestrator.Request(nil), reqs...),
	}

	select {
	case q.queue <- job:
	default:
		return "", ErrQueueFull
	}
	q.jobs[job.ID] = job
	q.metrics.SetQueueDepth(len(q.queue))
	q.log.Info("batch submitted", "job", job.ID, "client", clientID, "requests", job.Total)
	return job.ID, nil
}

func (q *Queue) Poll(id string) (Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sweepLocked()

	job, ok := q.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job.snapshot(), nil
}

// Release drops a terminal job once the client has read it.
func (q *Queue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.Status.Terminal() {
		return ErrJobNotFinished
	}
	delete(q.jobs, id)
	return nil
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When
// ctx ends first, in-flight and queued requests are cancelled and recorded
// as failed.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	started := q.started
	if !q.closing {
		q.closing = true
		close(q.queue)
	}
	q.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		if started {
			<-q.done
		}
		_ = q.group.Wait()
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		q.log.Warn("shutdown deadline reached, cancelling remaining batch requests", "err", ctx.Err())
		q.cancel()
		<-drained
	}
	q.cancel()
}

func (q *Queue) runJob(job *Job) {
	q.update(job, func(j *Job) { j.Status = StatusRunning })
	q.log.Info("batch started", "job", job.ID, "requests", job.Total)

	for i, req := range job.requests {
		// Release the image bytes as soon as the request is consumed.
		job.requests[i] = orchestrator.Request{}

		var outcome RequestOutcome
		if err := q.pace(req.Provider); err != nil {
			outcome = failed(i, providers.FromTransport(err).WithProvider(req.Provider))
		} else {
			outs, err := q.runner.Run(q.ctx, req)
			outcome = summarize(i, req.Provider, outs, err)
		}

		q.metrics.RecordBatchRequest(requestLabel(outcome))
		snap := q.update(job, func(j *Job) {
			j.Outcomes = append(j.Outcomes, outcome)
			j.Done++
			if !outcome.OK() {
				j.Failed++
			}
		})
		q.notify(snap, EventProgress, i, outcome.Error)

		if outcome.OK() {
			q.log.Info("batch request done", "job", job.ID, "request", i)
		} else {
			q.log.Warn("batch request failed", "job", job.ID, "request", i, "kind", outcome.Error.Kind, "err", outcome.Error.Message)
		}

		if i < len(job.requests)-1 && rateLimited(outcome) {
			q.log.Warn("provider rate limited, pausing", "job", job.ID, "provider", req.Provider, "delay", q.rateLimitDelay)
			_ = q.sleep(q.ctx, q.rateLimitDelay)
		}
	}
	snap := q.update(job, func(j *Job) {
		j.requests = nil
		j.Status = finalStatus(j.Total, j.Failed)
	})
	q.metrics.RecordBatchJob(string(snap.Status))
	q.notify(snap, EventCompleted, snap.Total-1, nil)
	q.log.Info("batch finished", "job", job.ID, "status", snap.Status, "failed", snap.Failed, "total", snap.Total)
}

func (q *Queue) pace(p providers.Provider) error {
	if err := q.ctx.Err(); err != nil {
		return err
	}
	l := q.limiters[p]
	if l == nil {
		return nil
	}
	return l.Wait(q.ctx)
}

func (q *Queue) update(job *Job, fn func(*Job)) Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(job)
	job.UpdatedAt = q.now()
	return job.snapshot()
}

func (q *Queue) notify(snap Job, typ string, index int, rec *ErrorRecord) {
	if q.notifier == nil || snap.ClientID == "" {
		return
	}
	q.notifier.Notify(snap.ClientID, Event{
		Type:         typ,
		JobID:        snap.ID,
		Status:       snap.Status,
		Done:         snap.Done,
		Total:        snap.Total,
		RequestIndex: index,
		Error:        rec,
	})
}

// sweepLocked drops terminal jobs nobody released within the retention
// window. q.mu must be held.
func (q *Queue) sweepLocked() {
	cutoff := q.now().Add(-q.retention)
	for id, job := range q.jobs {
		if job.Status.Terminal() && job.UpdatedAt.Before(cutoff) {
			delete(q.jobs, id)
		}
	}
}

// summarize turns the variations of one request into its outcome. The
// request fails only when it was rejected or every variation failed, and
// then reports the most fatal variation error.
func summarize(index int, provider providers.Provider, outs []orchestrator.Outcome, err error) RequestOutcome {
	if err != nil {
		return failed(index, providers.AsError(err).WithProvider(provider))
	}

	var worst *providers.Error
	for _, o := range outs {
		if o.OK() {
			return RequestOutcome{RequestIndex: index, Variations: outs}
		}
		if o.Err != nil && (worst == nil || providers.Worse(worst.Kind, o.Err.Kind) != worst.Kind) {
			worst = o.Err
		}
	}
	if worst == nil {
		worst = providers.NewError(providers.KindProviderError, "no variations produced").WithProvider(provider)
	}
	out := failed(index, worst)
	out.Variations = outs
	return out
}

func failed(index int, pe *providers.Error) RequestOutcome {
	return RequestOutcome{
		RequestIndex: index,
		Error: &ErrorRecord{
			RequestIndex: index,
			Kind:         pe.Kind,
			Message:      pe.Message,
			Retryable:    pe.Retryable,
			Provider:     pe.Provider,
		},
	}
}

func rateLimited(o RequestOutcome) bool {
	if o.Error != nil && o.Error.Kind == providers.KindRateLimited {
		return true
	}
	for _, v := range o.Variations {
		if v.Err != nil && v.Err.Kind == providers.KindRateLimited {
			return true
		}
	}
	return false
}

func finalStatus(total, failed int) Status {
	switch {
	case failed == 0:
		return StatusCompleted
	case failed == total:
		return StatusFailed
	default:
		return StatusPartiallyFailed
	}
}

func requestLabel(o RequestOutcome) string {
	if o.OK() {
		return "ok"
	}
	return string(o.Error.Kind)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
