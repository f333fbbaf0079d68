// Package taskqueue runs fire-and-forget background jobs on a bounded,
// in-process worker pool. Each submitted job is attempted at most once; a
// full or stopped queue drops the job and counts the drop.
package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	obscontext "github.com/smallbiznis/dealcadence/internal/observability/context"
	"github.com/smallbiznis/dealcadence/internal/observability/metrics"
	"go.uber.org/zap"
)

const (
	DropReasonFull    = "full"
	DropReasonStopped = "stopped"
)

// Job is the unit of background work.
type Job func(ctx context.Context) error

// Submitter hands work to the background queue without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, name, key string, fn Job) bool
}

type Config struct {
	Workers    int
	Capacity   int
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Capacity <= 0 {
		c.Capacity = 256
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 30 * time.Second
	}
	return c
}

type task struct {
	id         string
	name       string
	key        string
	requestID  string
	orgID      string
	fn         Job
	enqueuedAt time.Time
}

type Queue struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.ScheduleMetrics

	jobs chan task

	mu      sync.RWMutex
	stopped bool
	started bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log *zap.Logger, m *metrics.ScheduleMetrics) *Queue {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:     cfg,
		log:     log.Named("taskqueue"),
		metrics: m,
		jobs:    make(chan task, cfg.Capacity),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.log.Info("taskqueue started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("capacity", q.cfg.Capacity),
	)
}

// Stop refuses new jobs and waits for queued ones until ctx expires, after
// which in-flight jobs are cancelled.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		q.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

// Submit enqueues fn without blocking. It reports false when the job was
// dropped.
func (q *Queue) Submit(ctx context.Context, name, key string, fn Job) bool {
	t := task{
		id:         ulid.Make().String(),
		name:       name,
		key:        key,
		fn:         fn,
		enqueuedAt: time.Now(),
	}
	if ctx != nil {
		t.requestID = obscontext.RequestIDFromContext(ctx)
		t.orgID = obscontext.OrgIDFromContext(ctx)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped {
		q.drop(t, DropReasonStopped)
		return false
	}
	select {
	case q.jobs <- t:
		q.metrics.IncQueueSubmitted(name)
		q.metrics.SetQueueDepth(len(q.jobs))
		return true
	default:
		q.drop(t, DropReasonFull)
		return false
	}
}

// Len reports queued jobs not yet picked up by a worker.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) drop(t task, reason string) {
	q.metrics.IncQueueDropped(t.name, reason)
	q.log.Warn("taskqueue job dropped",
		zap.String("job_id", t.id),
		zap.String("job", t.name),
		zap.String("key", t.key),
		zap.String("reason", reason),
	)
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for t := range q.jobs {
		q.metrics.SetQueueDepth(len(q.jobs))
		q.run(t)
	}
}

func (q *Queue) run(t task) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.JobTimeout)
	defer cancel()
	ctx = obscontext.WithRequestID(ctx, t.requestID)
	ctx = obscontext.WithOrgID(ctx, t.orgID)
	ctx = obscontext.WithActor(ctx, "queue", t.id)

	log := q.log.With(
		zap.String("job_id", t.id),
		zap.String("job", t.name),
		zap.String("key", t.key),
	)
	start := time.Now()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", errPanic, r)
				log.Error("taskqueue job panicked",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
		}()
		return t.fn(ctx)
	}()

	fields := []zap.Field{
		zap.Int64("queue_wait_ms", start.Sub(t.enqueuedAt).Milliseconds()),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	}
	switch {
	case err == nil:
		log.Debug("taskqueue job finished", fields...)
	case errors.Is(err, errPanic):
		q.metrics.IncQueueFailed(t.name, "panic")
	default:
		q.metrics.IncQueueFailed(t.name, metrics.ClassifyJobReason(err))
		log.Warn("taskqueue job failed", append(fields, zap.Error(err))...)
	}
}

var errPanic = errors.New("job panicked")
