package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// ErrCallerDone marks a failure caused by the caller's own context ending
// rather than by the protected dependency. Breakers do not count it.
var ErrCallerDone = errors.New("caller context done")

// StateObserver is told about every breaker transition.
type StateObserver func(name string, to domain.BreakerStatus)

// BreakerSettings configures a breaker that trips on consecutive failures.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	Cooldown         time.Duration
	// HalfOpenProbes is how many successes in half-open close the breaker.
	HalfOpenProbes uint32
	OnStateChange  StateObserver
}

// NewConsecutiveBreaker opens after FailureThreshold failures in a row, moves
// to half-open after Cooldown and closes on HalfOpenProbes successes. Caller
// cancellation and ErrCallerDone are not counted as failures.
func NewConsecutiveBreaker[T any](s BreakerSettings) *gobreaker.CircuitBreaker[T] {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 3
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.HalfOpenProbes == 0 {
		s.HalfOpenProbes = 1
	}
	threshold := s.FailureThreshold

	return newBreaker[T](s.Name, s.HalfOpenProbes, s.Cooldown,
		func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= threshold },
		func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrCallerDone)
		},
		s.OnStateChange,
	)
}

func newBreaker[T any](
	name string,
	probes uint32,
	cooldown time.Duration,
	trip func(gobreaker.Counts) bool,
	success func(error) bool,
	observer StateObserver,
) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:         name,
		MaxRequests:  probes,
		Timeout:      cooldown,
		ReadyToTrip:  trip,
		IsSuccessful: success,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			status := Status(to)
			slog.Warn("circuit_breaker_state_change", "breaker", name, "from", string(Status(from)), "to", string(status))
			if observer != nil {
				observer(name, status)
			}
		},
	})
}

// Status maps a gobreaker state onto the domain vocabulary.
func Status(state gobreaker.State) domain.BreakerStatus {
	switch state {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}
