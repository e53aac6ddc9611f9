package ports

import (
	"context"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// QueryService is the inbound contract for answering a user question.
type QueryService interface {
	Ask(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)
}

// RolloutAdmin is the administrative view over variant traffic.
type RolloutAdmin interface {
	Snapshot() []domain.RolloutState
	Disable(ctx context.Context, variant, reason string) error
	SetTraffic(ctx context.Context, percent int) error
}

// TierInspector exposes generation tier state for observability.
type TierInspector interface {
	TierStates() []domain.TierState
}

// CacheInspector exposes semantic cache counters.
type CacheInspector interface {
	Stats() domain.CacheStats
}
