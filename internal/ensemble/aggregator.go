// Package ensemble combines independent model scores into one fraud probability.
package ensemble

import (
	"log/slog"
	"math"
	"strings"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// voteThreshold is the per-score probability above which a source votes fraud.
const voteThreshold = 0.5

// Strategy combines a non-empty score list into a probability in [0,1].
type Strategy interface {
	Name() domain.StrategyName
	Combine(scores []domain.ModelScore, tx *domain.Transaction) Aggregation
}

// Aggregation is the result of combining scores.
type Aggregation struct {
	Score    float64
	Strategy domain.StrategyName

	// Vote is set by the voting strategy only.
	Vote *bool

	// Primary is the source chosen by the context strategy.
	Primary string
}

// Aggregator holds the configured strategy plus every known strategy for
// callers that name one explicitly.
type Aggregator struct {
	strategy   Strategy
	strategies map[domain.StrategyName]Strategy
	logger     *slog.Logger
}

// New builds the aggregator. An unknown strategy name falls back to weighted.
func New(cfg domain.EnsembleConfig, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}

	weighted := &weightedStrategy{weights: cfg.Weights}
	a := &Aggregator{
		strategies: map[domain.StrategyName]Strategy{
			domain.StrategyVoting:   votingStrategy{},
			domain.StrategyWeighted: weighted,
			domain.StrategyContext:  newContextStrategy(cfg),
		},
		logger: logger,
	}

	a.strategy = a.lookup(domain.StrategyName(strings.ToLower(cfg.Strategy)))
	return a
}

// Strategy returns the configured strategy name.
func (a *Aggregator) Strategy() domain.StrategyName {
	return a.strategy.Name()
}

// Aggregate combines scores with the configured strategy.
func (a *Aggregator) Aggregate(scores []domain.ModelScore, tx *domain.Transaction) (Aggregation, error) {
	if len(scores) == 0 {
		return Aggregation{}, domain.ErrNoScores
	}
	return a.strategy.Combine(scores, tx), nil
}

// Combine combines scores with the named strategy.
func (a *Aggregator) Combine(scores []domain.ModelScore, strategy domain.StrategyName, tx *domain.Transaction) (float64, error) {
	if len(scores) == 0 {
		return 0, domain.ErrNoScores
	}
	return a.lookup(strategy).Combine(scores, tx).Score, nil
}

func (a *Aggregator) lookup(name domain.StrategyName) Strategy {
	if s, ok := a.strategies[name]; ok {
		return s
	}
	a.logger.Warn("unknown aggregation strategy, using weighted",
		"strategy", string(name),
	)
	return a.strategies[domain.StrategyWeighted]
}

// votingStrategy averages all scores and reports whether at least half of
// them exceed the vote threshold.
type votingStrategy struct{}

func (votingStrategy) Name() domain.StrategyName { return domain.StrategyVoting }

func (votingStrategy) Combine(scores []domain.ModelScore, _ *domain.Transaction) Aggregation {
	sum := 0.0
	votes := 0
	for _, s := range scores {
		p := clamp(s.Probability)
		sum += p
		if p > voteThreshold {
			votes++
		}
	}

	fraud := votes*2 >= len(scores)
	return Aggregation{
		Score:    clamp(sum / float64(len(scores))),
		Strategy: domain.StrategyVoting,
		Vote:     &fraud,
	}
}

// weightedStrategy is Σ(score·w)/Σw with per-source weights. Unknown sources
// weigh 1.0.
type weightedStrategy struct {
	weights map[string]float64
}

func (*weightedStrategy) Name() domain.StrategyName { return domain.StrategyWeighted }

func (w *weightedStrategy) Combine(scores []domain.ModelScore, _ *domain.Transaction) Aggregation {
	var num, den float64
	for _, s := range scores {
		weight := w.weight(s.Source)
		num += clamp(s.Probability) * weight
		den += weight
	}

	score := 0.0
	if den > 0 {
		score = num / den
	}
	return Aggregation{Score: clamp(score), Strategy: domain.StrategyWeighted}
}

func (w *weightedStrategy) weight(source string) float64 {
	if v, ok := w.weights[source]; ok && v >= 0 {
		return v
	}
	return 1.0
}

// contextStrategy weights one primary source, chosen from transaction
// attributes, above the others.
type contextStrategy struct {
	regional, general string
	primaryWeight     float64
	payment           string
	locations         []string
}

func newContextStrategy(cfg domain.EnsembleConfig) *contextStrategy {
	c := &contextStrategy{
		regional:      cfg.RegionalSource,
		general:       cfg.GeneralSource,
		primaryWeight: cfg.PrimaryWeight,
		payment:       strings.ToLower(cfg.RegionalPayment),
	}
	if c.primaryWeight <= 0 || c.primaryWeight > 1 {
		c.primaryWeight = 0.7
	}
	for _, l := range cfg.RegionalLocations {
		c.locations = append(c.locations, strings.ToLower(l))
	}
	return c
}

func (*contextStrategy) Name() domain.StrategyName { return domain.StrategyContext }

func (c *contextStrategy) Combine(scores []domain.ModelScore, tx *domain.Transaction) Aggregation {
	primary := c.primaryIndex(scores, tx)

	if len(scores) == 1 {
		return Aggregation{
			Score:    clamp(scores[0].Probability),
			Strategy: domain.StrategyContext,
			Primary:  scores[0].Source,
		}
	}

	residual := (1 - c.primaryWeight) / float64(len(scores)-1)
	sum := 0.0
	for i, s := range scores {
		w := residual
		if i == primary {
			w = c.primaryWeight
		}
		sum += clamp(s.Probability) * w
	}

	return Aggregation{
		Score:    clamp(sum),
		Strategy: domain.StrategyContext,
		Primary:  scores[primary].Source,
	}
}

// primaryIndex picks the preferred source, then the other configured source,
// then the first score.
func (c *contextStrategy) primaryIndex(scores []domain.ModelScore, tx *domain.Transaction) int {
	preferred, other := c.general, c.regional
	if c.regionalProfile(tx) {
		preferred, other = c.regional, c.general
	}

	for _, name := range []string{preferred, other} {
		if name == "" {
			continue
		}
		for i, s := range scores {
			if s.Source == name {
				return i
			}
		}
	}
	return 0
}

func (c *contextStrategy) regionalProfile(tx *domain.Transaction) bool {
	if tx == nil || c.payment == "" {
		return false
	}
	if !strings.Contains(strings.ToLower(tx.PaymentMethod), c.payment) {
		return false
	}

	location := strings.ToLower(tx.Location)
	for _, l := range c.locations {
		if l != "" && strings.Contains(location, l) {
			return true
		}
	}
	return false
}

func clamp(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

