package processing

import (
	"context"
	"errors"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull   = errors.New("processing queue is full")
	ErrQueueClosed = errors.New("processing queue is closed")
)

// Handler is the worker entry point, normally Pipeline.ProcessFile.
type Handler func(ctx context.Context, fileID string) error

// MemoryQueue is an in-process FIFO feeding a fixed worker pool. A file id
// already queued or running is not queued again.
type MemoryQueue struct {
	handler     Handler
	concurrency int
	log         *zap.Logger

	jobs     chan ProcessFileJob
	inflight cmap.ConcurrentMap[string, struct{}]

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

func NewMemoryQueue(handler Handler, concurrency, buffer int, log *zap.Logger) *MemoryQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if buffer <= 0 {
		buffer = 1000
	}
	return &MemoryQueue{
		handler:     handler,
		concurrency: concurrency,
		log:         log.With(zap.String("component", "memory_queue")),
		jobs:        make(chan ProcessFileJob, buffer),
		inflight:    cmap.New[struct{}](),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, fileID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	if !q.inflight.SetIfAbsent(fileID, struct{}{}) {
		q.log.Debug("File already queued", zap.String("file_id", fileID))
		return nil
	}

	select {
	case q.jobs <- ProcessFileJob{FileID: fileID}:
		queueDepth.Inc()
		return nil
	case <-ctx.Done():
		q.inflight.Remove(fileID)
		return ctx.Err()
	default:
		q.inflight.Remove(fileID)
		return ErrQueueFull
	}
}

// Start launches the workers. ctx bounds every job they run.
func (q *MemoryQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	q.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < q.concurrency; i++ {
		q.group.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	q.log.Info("Processing workers started", zap.Int("concurrency", q.concurrency))
}

func (q *MemoryQueue) work(ctx context.Context) {
	for job := range q.jobs {
		queueDepth.Dec()
		if err := q.handler(ctx, job.FileID); err != nil {
			q.log.Warn("Processing job failed", zap.String("file_id", job.FileID), zap.Error(err))
		}
		q.inflight.Remove(job.FileID)
	}
}

// Stop refuses new jobs and waits for queued ones to drain. When ctx ends
// first, running jobs are cancelled.
func (q *MemoryQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	group, cancel := q.group, q.cancel
	q.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		cancel()
		return err
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	}
}
