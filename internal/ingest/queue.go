// Package ingest provides the bounded fire-and-forget ingestion queue that
// batches audit records by size or age and flushes them to storage.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/auditpipe/internal/audit"
	"github.com/onnwee/auditpipe/internal/jobs"
)

// ErrQueueClosed is returned when a record is submitted after Close.
var ErrQueueClosed = errors.New("ingest queue is closed")

// Status classifies the result of an Enqueue call.
type Status string

const (
	// StatusAccepted means the record entered the queue.
	StatusAccepted Status = "accepted"
	// StatusCancelled means the caller's context ended while waiting on
	// queue capacity.
	StatusCancelled Status = "cancelled"
	// StatusRejected means the queue refused the record (e.g. it is closed).
	StatusRejected Status = "rejected"
)

// Outcome is the result of an Enqueue call.
type Outcome struct {
	Status Status
	Reason string
}

// Config contains configuration for the ingest queue.
type Config struct {
	// Capacity is the bounded queue size. Producers block (up to their
	// context deadline) when the queue is full. Default: 1024.
	Capacity int

	// BatchSize closes a batch once it holds this many records. Default: 100.
	BatchSize int

	// BatchAge closes a batch once this much time has passed since its first
	// record. Default: 1 second.
	BatchAge time.Duration

	// FlushTimeout bounds a single storage write. Flushes run on their own
	// context so shutdown can finish in-flight work. Default: 10 seconds.
	FlushTimeout time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:     1024,
		BatchSize:    100,
		BatchAge:     1 * time.Second,
		FlushTimeout: 10 * time.Second,
	}
}

// Queue is a bounded multi-producer/single-consumer queue that assembles
// records into batches and flushes each batch to storage in one write.
// Enqueue never blocks on I/O, only on queue capacity.
type Queue struct {
	store  audit.Store
	logger *slog.Logger
	config Config

	metrics *jobs.Metrics // optional

	ch       chan *audit.Record
	stopChan chan struct{}
	doneChan chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a new ingest queue. metrics may be nil.
func NewQueue(store audit.Store, logger *slog.Logger, metrics *jobs.Metrics, config Config) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	// Apply defaults if not set
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.BatchAge <= 0 {
		config.BatchAge = DefaultConfig().BatchAge
	}
	if config.FlushTimeout <= 0 {
		config.FlushTimeout = DefaultConfig().FlushTimeout
	}

	return &Queue{
		store:    store,
		logger:   logger,
		config:   config,
		metrics:  metrics,
		ch:       make(chan *audit.Record, config.Capacity),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the batching loop in a background goroutine.
func (q *Queue) Start(ctx context.Context) {
	go q.run(ctx)
}

// Enqueue offers a record to the queue. It blocks only while the queue is at
// capacity, and then only until the caller's context ends.
func (q *Queue) Enqueue(ctx context.Context, rec *audit.Record) Outcome {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return Outcome{Status: StatusRejected, Reason: ErrQueueClosed.Error()}
	}

	select {
	case q.ch <- rec:
		if q.metrics != nil {
			q.metrics.SetQueueDepth(len(q.ch))
		}
		return Outcome{Status: StatusAccepted}
	case <-ctx.Done():
		return Outcome{Status: StatusCancelled, Reason: ctx.Err().Error()}
	case <-q.stopChan:
		return Outcome{Status: StatusRejected, Reason: ErrQueueClosed.Error()}
	}
}

// Submit adapts Enqueue to the audit.Submitter interface.
func (q *Queue) Submit(ctx context.Context, rec *audit.Record) error {
	switch out := q.Enqueue(ctx, rec); out.Status {
	case StatusAccepted:
		return nil
	case StatusCancelled:
		return ctx.Err()
	default:
		return ErrQueueClosed
	}
}

// Close stops the batching loop, drains records already accepted into the
// queue, and flushes the final batch before returning.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.doneChan
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stopChan)
	<-q.doneChan
}

// run is the single consumer: it drains the queue into batches and flushes a
// batch when it reaches BatchSize or its first record is BatchAge old,
// whichever happens first.
func (q *Queue) run(ctx context.Context) {
	defer close(q.doneChan)

	q.logger.Info("ingest queue started",
		slog.Int("capacity", q.config.Capacity),
		slog.Int("batch_size", q.config.BatchSize),
		slog.Duration("batch_age", q.config.BatchAge))

	var batch []*audit.Record
	ageTimer := time.NewTimer(q.config.BatchAge)
	if !ageTimer.Stop() {
		<-ageTimer.C
	}

	flush := func() {
		if len(batch) == 0 {
			return
		}
		q.flush(batch)
		batch = nil
		if !ageTimer.Stop() {
			select {
			case <-ageTimer.C:
			default:
			}
		}
	}

	for {
		if len(batch) == 0 {
			// Nothing buffered: the age clock starts with the first record.
			select {
			case rec := <-q.ch:
				batch = append(batch, rec)
				ageTimer.Reset(q.config.BatchAge)
				if len(batch) >= q.config.BatchSize {
					flush()
				}
			case <-ctx.Done():
				q.drainAndStop(&batch, flush)
				return
			case <-q.stopChan:
				q.drainAndStop(&batch, flush)
				return
			}
			continue
		}

		select {
		case rec := <-q.ch:
			batch = append(batch, rec)
			if len(batch) >= q.config.BatchSize {
				flush()
			}
		case <-ageTimer.C:
			flush()
		case <-ctx.Done():
			q.drainAndStop(&batch, flush)
			return
		case <-q.stopChan:
			q.drainAndStop(&batch, flush)
			return
		}

		if q.metrics != nil {
			q.metrics.SetQueueDepth(len(q.ch))
		}
	}
}

// drainAndStop pulls any records already accepted into the queue into the
// final batch and flushes it. New work is not started after this point.
func (q *Queue) drainAndStop(batch *[]*audit.Record, flush func()) {
	for {
		select {
		case rec := <-q.ch:
			*batch = append(*batch, rec)
			if len(*batch) >= q.config.BatchSize {
				flush()
			}
		default:
			flush()
			q.logger.Info("ingest queue stopped")
			return
		}
	}
}

// flush writes one closed batch to storage. A failed batch is logged and
// dropped; it is not re-enqueued, to avoid unbounded duplication.
func (q *Queue) flush(batch []*audit.Record) {
	start := time.Now()

	// Flushes run on a detached context so shutdown finishes in-flight work.
	ctx, cancel := context.WithTimeout(context.Background(), q.config.FlushTimeout)
	defer cancel()

	err := q.store.AddBatch(ctx, batch)
	duration := time.Since(start)

	if q.metrics != nil {
		q.metrics.ObserveJobDuration(jobs.JobTypeIngestFlush, duration.Seconds())
	}

	if err != nil {
		q.logger.Error("batch flush failed",
			slog.Int("batch_size", len(batch)),
			slog.String("error", err.Error()))
		if q.metrics != nil {
			q.metrics.IncJobsTotal(jobs.JobTypeIngestFlush, jobs.StatusFailure)
			q.metrics.IncJobErrors(jobs.JobTypeIngestFlush, "storage_error")
		}
		return
	}

	q.logger.Debug("batch flushed",
		slog.Int("batch_size", len(batch)),
		slog.Duration("duration", duration))
	if q.metrics != nil {
		q.metrics.IncJobsTotal(jobs.JobTypeIngestFlush, jobs.StatusSuccess)
		q.metrics.ObserveBatchSize(len(batch))
	}
}
