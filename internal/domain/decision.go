package domain

import (
	"time"
)

// Severity is the alert/decision severity band.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityOrder is the escalation order, lowest first.
var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank returns the position of s in the escalation order, or -1 if unknown.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Next returns the next band up. Critical stays critical.
func (s Severity) Next() Severity {
	r := s.Rank()
	if r < 0 || r == len(severityOrder)-1 {
		return s
	}
	return severityOrder[r+1]
}

// Valid reports whether s is a known band.
func (s Severity) Valid() bool {
	return s.Rank() >= 0
}

// ModelScore is one independently produced fraud probability.
type ModelScore struct {
	Source      string  `json:"source"`
	Probability float64 `json:"probability"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// SourceResult records the outcome of calling one scoring source.
type SourceResult struct {
	Source    string      `json:"source"`
	Score     *ModelScore `json:"score,omitempty"`
	Err       string      `json:"error,omitempty"`
	LatencyMs int64       `json:"latencyMs"`
}

// OK reports whether the source produced a score.
func (r SourceResult) OK() bool {
	return r.Score != nil
}

// Decision is the verdict for one transaction.
type Decision struct {
	TransactionID string `json:"transactionId"`

	// Scores
	RiskScore     float64 `json:"riskScore"`
	MLScore       float64 `json:"mlScore"`
	BusinessScore float64 `json:"businessScore"`

	// Verdict
	IsFraud        bool     `json:"isFraud"`
	ShouldBlock    bool     `json:"shouldBlock"`
	ShouldAlert    bool     `json:"shouldAlert"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
	ViolatedRules  []RuleID `json:"violatedRules"`

	// Aggregation details
	Strategy StrategyName   `json:"strategy,omitempty"`
	Vote     *bool          `json:"vote,omitempty"`
	Sources  []SourceResult `json:"sources,omitempty"`

	// Degraded is set when the decision was produced without any model score
	// or after an internal fault.
	Degraded       bool   `json:"degraded"`
	DegradedReason string `json:"degradedReason,omitempty"`

	AlertID string `json:"alertId,omitempty"`
	// Enforced is set once the auto-block has been handed to the enforcer.
	Enforced  bool      `json:"enforced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StrategyName identifies a score aggregation strategy.
type StrategyName string

const (
	StrategyVoting   StrategyName = "voting"
	StrategyWeighted StrategyName = "weighted"
	StrategyContext  StrategyName = "context"
)
