package rollout

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// OutcomeSink consumes recorded outcomes off the request path.
type OutcomeSink interface {
	Observe(outcome domain.RequestOutcome)
}

type recordItem struct {
	outcome domain.RequestOutcome
	flushed chan struct{}
}

// Recorder buffers request outcomes and hands them to its sinks from a
// single goroutine. Record never blocks; a full buffer drops the outcome.
type Recorder struct {
	queue   chan recordItem
	sinks   []OutcomeSink
	dropped atomic.Int64
}

func NewRecorder(buffer int, sinks ...OutcomeSink) *Recorder {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Recorder{
		queue: make(chan recordItem, buffer),
		sinks: sinks,
	}
}

func (r *Recorder) Record(outcome domain.RequestOutcome) {
	select {
	case r.queue <- recordItem{outcome: outcome}:
	default:
		if r.dropped.Add(1)%100 == 1 {
			slog.Warn("metrics_outcome_dropped", "variant", outcome.Variant, "dropped_total", r.dropped.Load())
		}
	}
}

func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Run drains the queue until ctx is done, then applies whatever is still
// buffered.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return
		case item := <-r.queue:
			r.apply(item)
		}
	}
}

// Flush returns once every outcome recorded before the call has reached
// the sinks. It requires Run to be active.
func (r *Recorder) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case r.queue <- recordItem{flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) apply(item recordItem) {
	if item.flushed != nil {
		close(item.flushed)
		return
	}
	for _, sink := range r.sinks {
		sink.Observe(item.outcome)
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case item := <-r.queue:
			r.apply(item)
		default:
			return
		}
	}
}
