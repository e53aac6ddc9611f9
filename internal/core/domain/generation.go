package domain

import "time"

// TierID names a generation backend. The set is closed and ordered.
type TierID string

const (
	TierPrimary   TierID = "primary"
	TierSecondary TierID = "secondary"
	TierLocal     TierID = "local"
)

// TierOrder is the static fallback order.
var TierOrder = []TierID{TierPrimary, TierSecondary, TierLocal}

func (t TierID) Priority() int {
	for i, id := range TierOrder {
		if id == t {
			return i
		}
	}
	return len(TierOrder)
}

type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half-open"
)

type TierState struct {
	ID                  TierID        `json:"id"`
	Priority            int           `json:"priority"`
	Status              BreakerStatus `json:"status"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitempty"`
	QuotaRemaining      float64       `json:"quota_remaining"`
	Degraded            bool          `json:"degraded"`
	Model               string        `json:"model,omitempty"`
}

type GenerationRequest struct {
	Question string
	Context  string
	Prompt   string
	Tier     TierID
	Attempt  int
}

// GenerationResult is what a single backend call produced.
type GenerationResult struct {
	Text  string
	Model string
	// QuotaRemaining is the backend-reported fraction of quota left, or -1 when unknown.
	QuotaRemaining float64
}

type GenerationOutput struct {
	Text     string
	Tier     TierID
	Attempts int
}
