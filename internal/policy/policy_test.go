package policy

import (
	"math"
	"reflect"
	"testing"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

func newPolicy() *Policy {
	return New(domain.DefaultConfig().Policy)
}

func violations(ids ...domain.RuleID) []domain.RuleViolation {
	weights := map[domain.RuleID]float64{
		domain.RuleHighAmount:     0.3,
		domain.RuleHighVelocity:   0.4,
		domain.RuleUnusualTime:    0.2,
		domain.RuleForeignCountry: 0.3,
	}
	out := make([]domain.RuleViolation, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.RuleViolation{Rule: id, Weight: weights[id]})
	}
	return out
}

func TestDecideScenarios(t *testing.T) {
	p := newPolicy()

	t.Run("HighAmountAndVelocityIsMediumReview", func(t *testing.T) {
		d := p.Decide(0.6, 0.7, violations(domain.RuleHighAmount, domain.RuleHighVelocity))

		if math.Abs(d.RiskScore-0.63) > 1e-9 {
			t.Errorf("expected risk 0.63, got %f", d.RiskScore)
		}
		if !d.IsFraud {
			t.Error("expected isFraud")
		}
		if d.ShouldBlock {
			t.Error("expected no block")
		}
		if d.Severity != domain.SeverityMedium {
			t.Errorf("expected medium, got %s", d.Severity)
		}
		if !d.ShouldAlert {
			t.Error("expected alert")
		}
		if d.Recommendation != RecommendManualReview {
			t.Errorf("unexpected recommendation %q", d.Recommendation)
		}
		if len(d.ViolatedRules) != 2 {
			t.Errorf("expected 2 violated rules, got %v", d.ViolatedRules)
		}
	})

	t.Run("RawMLScoreBlocks", func(t *testing.T) {
		d := p.Decide(0.95, 0, nil)

		if math.Abs(d.RiskScore-0.665) > 1e-9 {
			t.Errorf("expected risk 0.665, got %f", d.RiskScore)
		}
		if !d.ShouldBlock {
			t.Error("ML score above 0.9 must block")
		}
		if !d.IsFraud {
			t.Error("block implies fraud")
		}
		if d.Severity != domain.SeverityMedium {
			t.Errorf("expected medium, got %s", d.Severity)
		}
		if d.Recommendation != RecommendBlockVerify {
			t.Errorf("unexpected recommendation %q", d.Recommendation)
		}
	})

	t.Run("ThreeViolationsBlock", func(t *testing.T) {
		d := p.Decide(0.1, 0.8, violations(domain.RuleHighAmount, domain.RuleUnusualTime, domain.RuleForeignCountry))
		if !d.ShouldBlock {
			t.Error("three violations must block")
		}
		if !d.IsFraud {
			t.Error("block implies fraud even below the fraud threshold")
		}
	})

	t.Run("CombinedAboveBlockThreshold", func(t *testing.T) {
		d := p.Decide(0.9, 1.0, nil)
		if !d.ShouldBlock || d.Severity != domain.SeverityCritical {
			t.Errorf("expected critical block, got block=%v severity=%s", d.ShouldBlock, d.Severity)
		}
		if d.Recommendation != RecommendBlockImmediate {
			t.Errorf("unexpected recommendation %q", d.Recommendation)
		}
	})

	t.Run("LowRiskApproves", func(t *testing.T) {
		d := p.Decide(0.1, 0, nil)
		if d.IsFraud || d.ShouldBlock || d.ShouldAlert {
			t.Errorf("expected clean approval, got %+v", d)
		}
		if d.Severity != domain.SeverityLow || d.Recommendation != RecommendApprove {
			t.Errorf("expected low/approve, got %s/%q", d.Severity, d.Recommendation)
		}
	})

	t.Run("AlertBelowFraudThreshold", func(t *testing.T) {
		d := p.Decide(0.5, 0.3, nil) // 0.44
		if d.IsFraud {
			t.Error("0.44 is below the fraud threshold")
		}
		if !d.ShouldAlert {
			t.Error("0.44 crosses the alert threshold")
		}
	})
}

func TestSeverityBands(t *testing.T) {
	p := newPolicy()
	cases := []struct {
		risk float64
		want domain.Severity
	}{
		{0, domain.SeverityLow},
		{0.49, domain.SeverityLow},
		{0.50, domain.SeverityMedium},
		{0.69, domain.SeverityMedium},
		{0.70, domain.SeverityHigh},
		{0.84, domain.SeverityHigh},
		{0.85, domain.SeverityCritical},
		{1, domain.SeverityCritical},
	}
	for _, tc := range cases {
		if got := p.Severity(tc.risk); got != tc.want {
			t.Errorf("Severity(%.2f) = %s, want %s", tc.risk, got, tc.want)
		}
	}
}

func TestRecommendTiers(t *testing.T) {
	cases := []struct {
		block    bool
		severity domain.Severity
		want     string
	}{
		{true, domain.SeverityCritical, RecommendBlockImmediate},
		{true, domain.SeverityLow, RecommendBlockVerify},
		{true, domain.SeverityHigh, RecommendBlockVerify},
		{false, domain.SeverityCritical, RecommendEscalate},
		{false, domain.SeverityHigh, RecommendEscalate},
		{false, domain.SeverityMedium, RecommendManualReview},
		{false, domain.SeverityLow, RecommendApprove},
	}
	for _, tc := range cases {
		if got := Recommend(tc.block, tc.severity); got != tc.want {
			t.Errorf("Recommend(%v, %s) = %q, want %q", tc.block, tc.severity, got, tc.want)
		}
	}
}

func TestDecideInvariants(t *testing.T) {
	p := newPolicy()
	all := []domain.RuleID{domain.RuleHighAmount, domain.RuleHighVelocity, domain.RuleUnusualTime, domain.RuleForeignCountry}

	for mi := 0; mi <= 20; mi++ {
		for bi := 0; bi <= 20; bi++ {
			for n := 0; n <= len(all); n++ {
				ml := float64(mi)/20*1.2 - 0.1
				business := float64(bi)/20*1.2 - 0.1
				v := violations(all[:n]...)

				d := p.Decide(ml, business, v)

				if d.RiskScore < 0 || d.RiskScore > 1 {
					t.Fatalf("risk %f outside [0,1] (ml=%f business=%f)", d.RiskScore, ml, business)
				}
				if d.ShouldBlock && !d.IsFraud {
					t.Fatalf("shouldBlock without isFraud (ml=%f business=%f n=%d)", ml, business, n)
				}
				if d.IsFraud && !d.ShouldAlert {
					t.Fatalf("fraud without alert (ml=%f business=%f n=%d)", ml, business, n)
				}
				if !d.Severity.Valid() || d.Recommendation == "" {
					t.Fatalf("incomplete decision %+v", d)
				}
				if again := p.Decide(ml, business, v); !reflect.DeepEqual(d, again) {
					t.Fatalf("non-deterministic decision:\n%+v\n%+v", d, again)
				}
			}
		}
	}
}

func TestDecideNaN(t *testing.T) {
	d := newPolicy().Decide(math.NaN(), math.NaN(), nil)
	if d.RiskScore != 0 || d.IsFraud {
		t.Errorf("expected NaN inputs to clamp to zero, got %+v", d)
	}
}
