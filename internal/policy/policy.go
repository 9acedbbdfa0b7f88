// Package policy maps combined risk and rule violations to a verdict.
package policy

import (
	"math"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// Recommendation texts, from least to most severe.
const (
	RecommendApprove        = "Approve"
	RecommendManualReview   = "Hold for manual review"
	RecommendEscalate       = "Escalate for urgent analyst investigation"
	RecommendBlockVerify    = "Block and require additional authentication"
	RecommendBlockImmediate = "Block immediately and contact customer"
)

// Policy produces decisions from scores. It is stateless and safe for
// concurrent use.
type Policy struct {
	cfg domain.PolicyConfig
}

// New creates a policy with the given thresholds.
func New(cfg domain.PolicyConfig) *Policy {
	return &Policy{cfg: cfg}
}

// Decide computes the verdict. It is total: every input yields one decision.
// The returned decision carries no transaction id or timestamp.
func (p *Policy) Decide(ml, business float64, violations []domain.RuleViolation) domain.Decision {
	ml = clamp(ml)
	business = clamp(business)

	risk := p.combine(ml, business)
	block := risk > p.cfg.BlockThreshold ||
		ml > p.cfg.MLBlockThreshold ||
		len(violations) >= p.cfg.BlockViolationCount
	fraud := risk > p.cfg.FraudThreshold || block
	severity := p.Severity(risk)

	rules := make([]domain.RuleID, 0, len(violations))
	for _, v := range violations {
		rules = append(rules, v.Rule)
	}

	return domain.Decision{
		RiskScore:      risk,
		MLScore:        ml,
		BusinessScore:  business,
		IsFraud:        fraud,
		ShouldBlock:    block,
		ShouldAlert:    fraud || risk > p.cfg.AlertThreshold,
		Severity:       severity,
		Recommendation: Recommend(block, severity),
		ViolatedRules:  rules,
	}
}

// Severity returns the first band, from the top, whose lower bound risk reaches.
func (p *Policy) Severity(risk float64) domain.Severity {
	switch {
	case risk >= p.cfg.CriticalBand:
		return domain.SeverityCritical
	case risk >= p.cfg.HighBand:
		return domain.SeverityHigh
	case risk >= p.cfg.MediumBand:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// Recommend returns the recommendation for a verdict.
func Recommend(block bool, severity domain.Severity) string {
	switch {
	case block && severity == domain.SeverityCritical:
		return RecommendBlockImmediate
	case block:
		return RecommendBlockVerify
	case severity == domain.SeverityCritical || severity == domain.SeverityHigh:
		return RecommendEscalate
	case severity == domain.SeverityMedium:
		return RecommendManualReview
	default:
		return RecommendApprove
	}
}

// combine blends ML and business scores. Weights summing above one are
// scaled down.
func (p *Policy) combine(ml, business float64) float64 {
	wm, wb := p.cfg.MLWeight, p.cfg.BusinessWeight
	total := wm + wb
	if total <= 0 {
		return 0
	}
	if total > 1 {
		wm, wb = wm/total, wb/total
	}
	return clamp(wm*ml + wb*business)
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
