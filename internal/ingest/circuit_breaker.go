// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/metrics"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// CircuitBreakerClient wraps a SourceClient with a circuit breaker so a
// down or degraded analytics source cannot pile up timed-out fetches.
//
// The breaker uses real time for its interval and timeout transitions. Tests
// exercise the wrapped client directly rather than waiting out the breaker.
type CircuitBreakerClient struct {
	client SourceClient
	cb     *gobreaker.CircuitBreaker[[]models.RawEvent]
	name   string
}

// NewCircuitBreakerClient wraps the given client. The breaker opens after a
// 60% failure rate over at least 10 requests, allows 3 probe requests in
// half-open state, and waits 2 minutes before probing an open circuit.
func NewCircuitBreakerClient(client SourceClient, sourceName string) *CircuitBreakerClient {
	cbName := sourceName + "-source"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]models.RawEvent](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			if failureRatio >= 0.6 {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("Opening source circuit")
				return true
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Source circuit state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &CircuitBreakerClient{client: client, cb: cb, name: cbName}
}

// FetchEvents fetches through the breaker. A rejected request (open circuit
// or half-open saturation) is reported as transient so the caller retries
// the same window on a later run.
func (cbc *CircuitBreakerClient) FetchEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error) {
	events, err := cbc.cb.Execute(func() ([]models.RawEvent, error) {
		return cbc.client.FetchEvents(ctx, from, to)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "rejected").Inc()
			return nil, fmt.Errorf("%w: %v", ErrTransientFetch, err)
		}
		metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(cbc.name, "success").Inc()
	return events, nil
}

// Ping forwards to the wrapped client without breaker accounting: a health
// probe should observe the source directly.
func (cbc *CircuitBreakerClient) Ping(ctx context.Context) error {
	return cbc.client.Ping(ctx)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
