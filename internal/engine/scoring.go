package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
)

// guardedSource wraps a scoring source with a per-call timeout and a circuit
// breaker. A call never outlives its timeout, even if the source ignores
// cancellation.
type guardedSource struct {
	source  domain.ScoringSource
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *slog.Logger
}

func newGuardedSource(src domain.ScoringSource, cfg domain.EngineConfig, logger *slog.Logger) *guardedSource {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}

	settings := gobreaker.Settings{
		Name:        src.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
			logger.Warn("scoring source breaker state changed",
				"source", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &guardedSource{
		source:  src,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: cfg.SourceTimeout,
		logger:  logger,
	}
}

type scoreOutcome struct {
	probability float64
	confidence  float64
	err         error
}

// score calls the source. Failures are returned in the result, never as an error.
func (g *guardedSource) score(ctx context.Context, tx *domain.Transaction) domain.SourceResult {
	start := time.Now()
	name := g.source.Name()

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.call(ctx, tx)
	})

	result := domain.SourceResult{
		Source:    name,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		serr := &domain.SourceError{Source: name, Err: err}
		metrics.SourceFailuresTotal.WithLabelValues(name).Inc()
		g.logger.Warn("scoring source unavailable",
			"source", name,
			"tx_id", tx.ID,
			"error", err,
		)
		result.Err = serr.Error()
		return result
	}

	ms := out.(domain.ModelScore)
	result.Score = &ms
	return result
}

func (g *guardedSource) call(ctx context.Context, tx *domain.Transaction) (domain.ModelScore, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ch := make(chan scoreOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- scoreOutcome{err: fmt.Errorf("source panicked: %v", r)}
			}
		}()
		p, c, err := g.source.Score(ctx, tx)
		ch <- scoreOutcome{probability: p, confidence: c, err: err}
	}()

	select {
	case <-ctx.Done():
		return domain.ModelScore{}, ctx.Err()
	case o := <-ch:
		if o.err != nil {
			return domain.ModelScore{}, o.err
		}
		if !inUnit(o.probability) {
			return domain.ModelScore{}, fmt.Errorf("probability %v outside [0,1]", o.probability)
		}
		if !inUnit(o.confidence) {
			o.confidence = 0
		}
		return domain.ModelScore{
			Source:      g.source.Name(),
			Probability: o.probability,
			Confidence:  o.confidence,
		}, nil
	}
}

// collectScores fans out to every source concurrently. Results keep source
// order; scores hold only the successful ones.
func (e *Engine) collectScores(ctx context.Context, tx *domain.Transaction) ([]domain.SourceResult, []domain.ModelScore) {
	results := make([]domain.SourceResult, len(e.sources))

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.MaxConcurrency > 0 {
		g.SetLimit(e.cfg.MaxConcurrency)
	}
	for i, src := range e.sources {
		g.Go(func() error {
			results[i] = src.score(gctx, tx)
			return nil
		})
	}
	_ = g.Wait()

	scores := make([]domain.ModelScore, 0, len(results))
	for _, r := range results {
		if r.OK() {
			scores = append(scores, *r.Score)
		}
	}
	return results, scores
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
