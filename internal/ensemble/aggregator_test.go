package ensemble

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

func newAggregator(t *testing.T, strategy domain.StrategyName) *Aggregator {
	t.Helper()
	cfg := domain.DefaultConfig().Ensemble
	cfg.Strategy = string(strategy)
	return New(cfg, nil)
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCombineRange(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	sources := []string{"general", "regional", "vendor-x", "vendor-y"}
	tx := &domain.Transaction{PaymentMethod: "mobile_money", Location: "Dakar"}

	a := newAggregator(t, domain.StrategyWeighted)
	for _, strategy := range []domain.StrategyName{domain.StrategyVoting, domain.StrategyWeighted, domain.StrategyContext} {
		for i := 0; i < 500; i++ {
			n := 1 + rng.Intn(len(sources))
			scores := make([]domain.ModelScore, n)
			for j := range scores {
				scores[j] = domain.ModelScore{
					Source:      sources[rng.Intn(len(sources))],
					Probability: rng.Float64()*1.4 - 0.2,
				}
			}

			got, err := a.Combine(scores, strategy, tx)
			if err != nil {
				t.Fatalf("%s: unexpected error: %v", strategy, err)
			}
			if got < 0 || got > 1 {
				t.Fatalf("%s: combined %f outside [0,1] for %+v", strategy, got, scores)
			}
		}
	}
}

func TestEmptyScores(t *testing.T) {
	a := newAggregator(t, domain.StrategyVoting)

	if _, err := a.Combine(nil, domain.StrategyVoting, nil); !errors.Is(err, domain.ErrNoScores) {
		t.Errorf("expected ErrNoScores, got %v", err)
	}
	if _, err := a.Aggregate([]domain.ModelScore{}, nil); !errors.Is(err, domain.ErrNoScores) {
		t.Errorf("expected ErrNoScores from Aggregate, got %v", err)
	}
}

func TestVotingStrategy(t *testing.T) {
	a := newAggregator(t, domain.StrategyVoting)

	t.Run("HalfVotesFraud", func(t *testing.T) {
		scores := []domain.ModelScore{
			{Source: "a", Probability: 0.9},
			{Source: "b", Probability: 0.2},
		}
		agg, err := a.Aggregate(scores, nil)
		if err != nil {
			t.Fatalf("Aggregate failed: %v", err)
		}
		if agg.Vote == nil || !*agg.Vote {
			t.Error("expected fraud vote with half of sources above 0.5")
		}
		if !approx(agg.Score, 0.55) {
			t.Errorf("expected mean 0.55, got %f", agg.Score)
		}
	})

	t.Run("ScoreIsMeanRegardlessOfVote", func(t *testing.T) {
		scores := []domain.ModelScore{
			{Source: "a", Probability: 0.5},
			{Source: "b", Probability: 0.1},
			{Source: "c", Probability: 0.99},
		}
		agg, _ := a.Aggregate(scores, nil)
		if agg.Vote == nil || *agg.Vote {
			t.Error("expected no fraud vote: only one of three strictly above 0.5")
		}
		if !approx(agg.Score, (0.5+0.1+0.99)/3) {
			t.Errorf("expected mean, got %f", agg.Score)
		}
	})
}

func TestWeightedStrategy(t *testing.T) {
	t.Run("EqualWeightsIsMean", func(t *testing.T) {
		cfg := domain.DefaultConfig().Ensemble
		cfg.Strategy = "weighted"
		cfg.Weights = map[string]float64{"a": 1, "b": 1, "c": 1}
		a := New(cfg, nil)

		scores := []domain.ModelScore{
			{Source: "a", Probability: 0.2},
			{Source: "b", Probability: 0.4},
			{Source: "c", Probability: 0.9},
		}
		got, _ := a.Combine(scores, domain.StrategyWeighted, nil)
		if !approx(got, 0.5) {
			t.Errorf("expected 0.5, got %f", got)
		}
	})

	t.Run("UnknownSourcesWeighOne", func(t *testing.T) {
		a := New(domain.EnsembleConfig{Strategy: "weighted"}, nil)
		scores := []domain.ModelScore{
			{Source: "x", Probability: 0.3},
			{Source: "y", Probability: 0.7},
		}
		got, _ := a.Combine(scores, domain.StrategyWeighted, nil)
		if !approx(got, 0.5) {
			t.Errorf("expected arithmetic mean 0.5, got %f", got)
		}
	})

	t.Run("ConfiguredWeights", func(t *testing.T) {
		a := newAggregator(t, domain.StrategyWeighted)
		scores := []domain.ModelScore{
			{Source: "general", Probability: 0.8},
			{Source: "regional", Probability: 0.3},
		}
		got, _ := a.Combine(scores, domain.StrategyWeighted, nil)
		// (0.8*0.6 + 0.3*0.4) / 1.0
		if !approx(got, 0.6) {
			t.Errorf("expected 0.6, got %f", got)
		}
	})
}

func TestContextStrategy(t *testing.T) {
	a := newAggregator(t, domain.StrategyContext)
	scores := []domain.ModelScore{
		{Source: "general", Probability: 0.2},
		{Source: "regional", Probability: 0.8},
	}

	t.Run("RegionalPrimary", func(t *testing.T) {
		tx := &domain.Transaction{PaymentMethod: "Mobile Money", Location: "Dakar, Sénégal"}
		agg, _ := a.Aggregate(scores, tx)
		if agg.Primary != "regional" {
			t.Errorf("expected regional primary, got %q", agg.Primary)
		}
		if !approx(agg.Score, 0.8*0.7+0.2*0.3) {
			t.Errorf("unexpected score %f", agg.Score)
		}
	})

	t.Run("GeneralPrimaryWithoutMobile", func(t *testing.T) {
		tx := &domain.Transaction{PaymentMethod: "card", Location: "Dakar"}
		agg, _ := a.Aggregate(scores, tx)
		if agg.Primary != "general" {
			t.Errorf("expected general primary, got %q", agg.Primary)
		}
		if !approx(agg.Score, 0.2*0.7+0.8*0.3) {
			t.Errorf("unexpected score %f", agg.Score)
		}
	})

	t.Run("GeneralPrimaryOutsideRegion", func(t *testing.T) {
		tx := &domain.Transaction{PaymentMethod: "mobile", Location: "Paris"}
		agg, _ := a.Aggregate(scores, tx)
		if agg.Primary != "general" {
			t.Errorf("expected general primary, got %q", agg.Primary)
		}
	})

	t.Run("FallbackToOtherConfiguredSource", func(t *testing.T) {
		tx := &domain.Transaction{PaymentMethod: "card"}
		only := []domain.ModelScore{
			{Source: "vendor", Probability: 0.1},
			{Source: "regional", Probability: 0.9},
		}
		agg, _ := a.Aggregate(only, tx)
		if agg.Primary != "regional" {
			t.Errorf("expected fallback to regional, got %q", agg.Primary)
		}
	})

	t.Run("FallbackToFirstScore", func(t *testing.T) {
		residual := []domain.ModelScore{
			{Source: "v1", Probability: 1.0},
			{Source: "v2", Probability: 0.0},
			{Source: "v3", Probability: 0.0},
		}
		agg, _ := a.Aggregate(residual, nil)
		if agg.Primary != "v1" {
			t.Errorf("expected first score as primary, got %q", agg.Primary)
		}
		if !approx(agg.Score, 0.7) {
			t.Errorf("expected 0.7, got %f", agg.Score)
		}
	})

	t.Run("SingleSourceWeighsOne", func(t *testing.T) {
		agg, _ := a.Aggregate([]domain.ModelScore{{Source: "general", Probability: 0.42}}, nil)
		if !approx(agg.Score, 0.42) {
			t.Errorf("expected 0.42, got %f", agg.Score)
		}
	})
}

func TestUnknownStrategyFallsBackToWeighted(t *testing.T) {
	cfg := domain.DefaultConfig().Ensemble
	cfg.Strategy = "stacking"
	a := New(cfg, nil)

	if a.Strategy() != domain.StrategyWeighted {
		t.Errorf("expected weighted fallback, got %s", a.Strategy())
	}

	scores := []domain.ModelScore{{Source: "a", Probability: 0.4}, {Source: "b", Probability: 0.6}}
	got, err := a.Combine(scores, "bogus", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !approx(got, 0.5) {
		t.Errorf("expected weighted mean 0.5, got %f", got)
	}
}
