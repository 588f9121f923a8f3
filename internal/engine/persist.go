package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"copytrade-engine/internal/observability"
	"copytrade-engine/internal/storage"
)

// writeJob is one durable write queued behind a decision.
type writeJob struct {
	record string
	fn     func(ctx context.Context) error
}

// persister executes durable writes off the decision path with bounded
// retries. A full queue or an exhausted retry budget drops the write and
// counts it; it never backs up into the decision loop.
type persister struct {
	queue   chan writeJob
	retries int
	backoff time.Duration
	log     zerolog.Logger
	metrics *observability.Metrics
}

func newPersister(queueSize, retries int, backoff time.Duration, log zerolog.Logger, metrics *observability.Metrics) *persister {
	return &persister{
		queue:   make(chan writeJob, queueSize),
		retries: retries,
		backoff: backoff,
		log:     log,
		metrics: metrics,
	}
}

// submit queues a write without blocking.
func (w *persister) submit(record string, fn func(ctx context.Context) error) {
	select {
	case w.queue <- writeJob{record: record, fn: fn}:
	default:
		w.metrics.PersistenceFailures.WithLabelValues(record).Inc()
		w.log.Error().Str("record", record).Msg("persistence queue full, write dropped")
	}
}

// run processes writes until the context ends, then drains what is queued
// under a short grace period.
func (w *persister) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			grace, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			w.flush(grace)
			cancel()
			return
		case job := <-w.queue:
			w.execute(ctx, job)
		}
	}
}

// flush synchronously executes everything currently queued.
func (w *persister) flush(ctx context.Context) {
	for {
		select {
		case job := <-w.queue:
			w.execute(ctx, job)
		default:
			return
		}
	}
}

// execute runs one write with retries. Duplicate-key means the row already
// landed, so it counts as success.
func (w *persister) execute(ctx context.Context, job writeJob) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			w.metrics.PersistenceRetries.WithLabelValues(job.record).Inc()
			select {
			case <-ctx.Done():
				w.metrics.PersistenceFailures.WithLabelValues(job.record).Inc()
				return
			case <-time.After(w.backoff):
			}
		}

		err = job.fn(ctx)
		if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
			return
		}
	}

	w.metrics.PersistenceFailures.WithLabelValues(job.record).Inc()
	w.log.Error().Err(err).Str("record", job.record).
		Int("attempts", w.retries+1).Msg("durable write dropped after retries")
}
