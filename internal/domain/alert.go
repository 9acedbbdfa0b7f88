package domain

import (
	"time"
)

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertOpen     AlertState = "open"
	AlertReviewed AlertState = "reviewed"
)

// AlertEvent is an input to the alert state machine.
type AlertEvent string

const (
	EventEscalate AlertEvent = "escalate"
	EventReview   AlertEvent = "review"
)

// Alert is raised for decisions that cross the alert threshold.
type Alert struct {
	ID            string     `json:"id"`
	TransactionID string     `json:"transactionId"`
	Severity      Severity   `json:"severity"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Indicators    Indicators `json:"indicators"`
	State         AlertState `json:"state"`

	// Review
	Reviewed       bool       `json:"reviewed"`
	ReviewedBy     string     `json:"reviewedBy,omitempty"`
	ReviewedAt     *time.Time `json:"reviewedAt,omitempty"`
	Resolution     string     `json:"resolution,omitempty"`
	ConfirmedFraud bool       `json:"confirmedFraud"`

	EscalationCount int       `json:"escalationCount"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Indicators is the decision snapshot captured when the alert is created.
type Indicators struct {
	CustomerID     string       `json:"customerId"`
	Amount         string       `json:"amount"`
	Currency       string       `json:"currency"`
	RiskScore      float64      `json:"riskScore"`
	MLScore        float64      `json:"mlScore"`
	BusinessScore  float64      `json:"businessScore"`
	ViolatedRules  []RuleID     `json:"violatedRules"`
	Strategy       StrategyName `json:"strategy,omitempty"`
	ShouldBlock    bool         `json:"shouldBlock"`
	Recommendation string       `json:"recommendation"`
}
