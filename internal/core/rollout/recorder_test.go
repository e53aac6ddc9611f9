package rollout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type sinkFake struct {
	mu       sync.Mutex
	outcomes []domain.RequestOutcome
}

func (s *sinkFake) Observe(outcome domain.RequestOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func (s *sinkFake) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

func TestRecorderDeliversToSinksInOrder(t *testing.T) {
	sink := &sinkFake{}
	rec := NewRecorder(16, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	for i := 0; i < 5; i++ {
		rec.Record(domain.RequestOutcome{Variant: domain.VariantBaseline, Latency: time.Duration(i)})
	}
	require.NoError(t, rec.Flush(ctx))

	require.Equal(t, 5, sink.count())
	for i, outcome := range sink.outcomes {
		assert.Equal(t, time.Duration(i), outcome.Latency)
	}
}

func TestRecorderDropsWhenFullWithoutBlocking(t *testing.T) {
	rec := NewRecorder(2)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			rec.Record(domain.RequestOutcome{Variant: domain.VariantBaseline})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full buffer")
	}
	assert.Equal(t, int64(8), rec.Dropped())
}

func TestRecorderFeedsControllerRollback(t *testing.T) {
	c := NewController(testConfig())
	rec := NewRecorder(64, c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rec.Run(ctx)

	for i := 0; i < 20; i++ {
		rec.Record(domain.RequestOutcome{Variant: domain.VariantOptimized, Success: i%4 != 0})
	}
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, 0, c.OptimizedPercent())
}
