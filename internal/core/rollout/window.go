package rollout

import (
	"math"
	"slices"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type sample struct {
	latency  time.Duration
	success  bool
	quality  float64
	hasScore bool
	cacheHit bool
}

// window is a fixed-size ring of the most recent outcomes of one variant.
type window struct {
	samples []sample
	next    int
	full    bool
}

func newWindow(size int) *window {
	return &window{samples: make([]sample, size)}
}

func (w *window) add(s sample) {
	w.samples[w.next] = s
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func (w *window) reset() {
	clear(w.samples)
	w.next = 0
	w.full = false
}

func (w *window) stats() domain.MetricWindow {
	n := w.len()
	if n == 0 {
		return domain.MetricWindow{}
	}

	latencies := make([]time.Duration, 0, n)
	failures := 0
	qualitySum := 0.0
	out := domain.MetricWindow{Samples: n}
	for _, s := range w.samples[:n] {
		latencies = append(latencies, s.latency)
		if !s.success {
			failures++
		}
		if s.hasScore {
			qualitySum += s.quality
			out.QualityN++
		}
		if s.cacheHit {
			out.CacheHits++
		}
	}

	out.ErrorRate = float64(failures) / float64(n)
	out.P95Latency = percentile(latencies, 0.95)
	if out.QualityN > 0 {
		out.Quality = qualitySum / float64(out.QualityN)
	}
	return out
}

// percentile uses the nearest-rank method and sorts values in place.
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	slices.Sort(values)
	rank := int(math.Ceil(p*float64(len(values)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(values) {
		rank = len(values) - 1
	}
	return values[rank]
}
