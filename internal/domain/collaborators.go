package domain

import (
	"context"
)

// ScoringSource is an external model producing a fraud probability.
type ScoringSource interface {
	// Name is the stable identifier used for weighting.
	Name() string

	// Score returns a probability and confidence, both in [0,1].
	Score(ctx context.Context, tx *Transaction) (probability, confidence float64, err error)
}

// HistoryProvider supplies historical aggregates for rule evaluation.
type HistoryProvider interface {
	RecentTransactionCount(ctx context.Context, customerID string, windowHours int) (int, error)
}

// Notifier delivers alert notifications. Failures are logged by the caller
// and never propagated.
type Notifier interface {
	Notify(ctx context.Context, alert *Alert) error
}

// Enforcer applies an auto-block to a transaction.
type Enforcer interface {
	Block(ctx context.Context, tx *Transaction, d *Decision) error
}

// Admitter is the per-client admission controller.
type Admitter interface {
	// Allow admits or rejects a request. On rejection retryAfter is the
	// number of seconds the client should wait.
	Allow(ctx context.Context, clientKey string) (allowed bool, retryAfter int)

	// Release ends an admitted request. It must be called exactly once for
	// every admitted request.
	Release(clientKey string)
}
