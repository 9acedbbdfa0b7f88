package domain

// RuleID identifies a business rule.
type RuleID string

// Built-in business rules.
const (
	RuleHighAmount     RuleID = "high_amount"
	RuleHighVelocity   RuleID = "high_velocity"
	RuleUnusualTime    RuleID = "unusual_time"
	RuleForeignCountry RuleID = "foreign_country"
)

// RuleViolation is one fired business rule.
type RuleViolation struct {
	Rule   RuleID  `json:"rule"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail,omitempty"`
}

// HistoricalContext holds the aggregates a rule evaluation may read.
type HistoricalContext struct {
	// TransactionCount24h is the customer's transaction count over the last 24 hours.
	TransactionCount24h int
}

// CustomRule is a configured CEL rule evaluated alongside the built-ins.
// Expression must return bool.
type CustomRule struct {
	ID         string  `json:"id" mapstructure:"id"`
	Expression string  `json:"expression" mapstructure:"expression"`
	Weight     float64 `json:"weight" mapstructure:"weight"`
}
