// Package worker runs report fetches concurrently for the collector.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Sponsorn/mythic-tournament/internal/adapters/mq/queue"
	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
	"github.com/Sponsorn/mythic-tournament/pkg/logger"
	"github.com/Sponsorn/mythic-tournament/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount  = 4
	poolShutdownTimeout = 30 * time.Second
)

// ErrSkipped marks a job that was never fetched because the pass stopped early.
var ErrSkipped = errors.New("fetch skipped")

// Job abstracts what workers read off the queue.
type Job = model.ReportJob

// Fetcher loads one report by code.
type Fetcher interface {
	FetchReport(ctx context.Context, code string) (model.Report, error)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker fetches reports and hands back results.
type Worker interface {
	// Run starts the worker loop until the queue drains or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in flight.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker on top of a Queue.
type InMemoryWorker struct {
	queue   Queue
	fetcher Fetcher
	results chan<- model.ReportResult
	name    string

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, f Fetcher, results chan<- model.ReportResult, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		fetcher:  f,
		results:  results,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			select {
			case <-w.shutdown:
				return
			default:
			}
			res := w.process(ctx, job)
			select {
			case w.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Shutdown signals the worker and waits for it to stop.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, job Job) model.ReportResult {
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	report, err := w.fetcher.FetchReport(ctx, job.Code)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "fetch_error")
		w.logger.Warn(ctx, "report fetch failed",
			logger.String("team", job.Team),
			logger.String("code", job.Code),
			logger.Error(err),
		)
		return model.ReportResult{Job: job, Err: fmt.Errorf("fetch report %s: %w", job.Code, err)}
	}
	w.logger.Debug(ctx, "report fetched",
		logger.String("team", job.Team),
		logger.String("code", job.Code),
		logger.Int("fights", len(report.Fights)),
	)
	return model.ReportResult{Job: job, Report: report}
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	wg      sync.WaitGroup
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers sharing one queue and one
// results channel.
func NewPool(workerCount int, q Queue, f Fetcher, results chan<- model.ReportResult, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(q, f, results, wopts...)
	}
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	metrics.UpdateWorkerActiveCount(len(p.workers))
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown closes the queue when it can be closed and stops every worker.
func (p *Pool) Shutdown(ctx context.Context) error {
	type closer interface {
		Close() error
		IsClosed() bool
	}
	if c, ok := p.queue.(closer); ok && !c.IsClosed() {
		if err := c.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var firstErr error
	for i, w := range p.workers {
		if err := w.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	return firstErr
}

// FetchAll fetches every job with workerCount concurrent workers and returns
// the results ordered by Job.Index. Failed fetches come back with Err set.
// When stopOn reports true for a failure the pool is shut down; jobs that
// were not started come back with ErrSkipped.
func FetchAll(ctx context.Context, f Fetcher, jobs []Job, workerCount int, stopOn func(error) bool, opts ...Option) []model.ReportResult {
	if len(jobs) == 0 {
		return nil
	}
	if workerCount > len(jobs) {
		workerCount = len(jobs)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	q := queue.NewInMemoryQueue(queue.WithCapacity(len(jobs)))
	for _, j := range jobs {
		q.Enqueue(fetchCtx, j)
	}
	_ = q.Close()

	results := make(chan model.ReportResult, len(jobs))
	pool := NewPool(workerCount, q, f, results, opts...)
	pool.Start(fetchCtx)
	go func() {
		pool.Wait()
		close(results)
	}()

	out := make([]model.ReportResult, 0, len(jobs))
	done := make(map[int]bool, len(jobs))
	stopped := false
	for r := range results {
		out = append(out, r)
		done[r.Job.Index] = true
		if stopped || r.Err == nil || stopOn == nil || !stopOn(r.Err) {
			continue
		}
		stopped = true
		pool.logger.Warn(ctx, "stopping fetches",
			logger.String("code", r.Job.Code),
			logger.Int("queued", q.Len(ctx)),
			logger.Error(r.Err),
		)
		if err := pool.Shutdown(ctx); err != nil {
			pool.logger.Warn(ctx, "pool shutdown failed", logger.Error(err))
		}
	}
	for _, j := range jobs {
		if !done[j.Index] {
			out = append(out, model.ReportResult{Job: j, Err: ErrSkipped})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Index < out[j].Job.Index })
	return out
}
