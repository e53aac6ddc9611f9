package domain

import "time"

type CacheEntry struct {
	ID         string        `json:"id"`
	Key        string        `json:"key"`
	Embedding  []float32     `json:"embedding"`
	Answer     string        `json:"answer"`
	Sources    []string      `json:"sources"`
	Confidence float64       `json:"confidence"`
	CreatedAt  time.Time     `json:"created_at"`
	TTL        time.Duration `json:"ttl"`
	Threshold  float64       `json:"threshold"`
	HitCount   int64         `json:"hit_count"`
	LastHitAt  time.Time     `json:"last_hit_at"`
}

// Live reports whether the entry may still be served at now.
func (e CacheEntry) Live(now time.Time) bool {
	return now.Sub(e.CreatedAt) < e.TTL
}

// LastUsed is the recency used for capacity eviction.
func (e CacheEntry) LastUsed() time.Time {
	if e.LastHitAt.After(e.CreatedAt) {
		return e.LastHitAt
	}
	return e.CreatedAt
}

type CacheStats struct {
	Entries       int   `json:"entries"`
	Capacity      int   `json:"capacity"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Expired       int64 `json:"expired"`
	InFlight      int   `json:"in_flight"`
	SharedResults int64 `json:"shared_results"`
}
