// Package notify publishes alert notifications and auto-block commands on
// the event bus.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

// AlertNotification is the payload published for a new or escalated alert.
type AlertNotification struct {
	Alert     *domain.Alert `json:"alert"`
	Immediate bool          `json:"immediate"`
	SentAt    time.Time     `json:"sentAt"`
}

// BlockCommand is the payload published when a transaction is auto-blocked.
type BlockCommand struct {
	TransactionID string          `json:"transactionId"`
	CustomerID    string          `json:"customerId"`
	Amount        string          `json:"amount"`
	Currency      string          `json:"currency"`
	RiskScore     float64         `json:"riskScore"`
	Severity      domain.Severity `json:"severity"`
	Reason        string          `json:"reason"`
	BlockedAt     time.Time       `json:"blockedAt"`
}

// Publisher sends alerts and block commands to the bus. It implements both
// domain.Notifier and domain.Enforcer.
type Publisher struct {
	bus domain.EventBus
	now func() time.Time
}

// NewPublisher creates a bus-backed publisher.
func NewPublisher(bus domain.EventBus) *Publisher {
	return &Publisher{bus: bus, now: time.Now}
}

// Notify publishes the alert. High and critical alerts go to the immediate
// topic.
func (p *Publisher) Notify(ctx context.Context, alert *domain.Alert) error {
	immediate := alert.Severity.Rank() >= domain.SeverityHigh.Rank()
	topic := domain.TopicAlert
	if immediate {
		topic = domain.TopicAlertImmediate
	}

	payload, err := json.Marshal(AlertNotification{
		Alert:     alert,
		Immediate: immediate,
		SentAt:    p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert notification: %w", err)
	}

	if err := p.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}
	return nil
}

// Block publishes an auto-block command for the transaction.
func (p *Publisher) Block(ctx context.Context, tx *domain.Transaction, d *domain.Decision) error {
	payload, err := json.Marshal(BlockCommand{
		TransactionID: tx.ID,
		CustomerID:    tx.CustomerID,
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		RiskScore:     d.RiskScore,
		Severity:      d.Severity,
		Reason:        blockReason(d),
		BlockedAt:     p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal block command: %w", err)
	}

	if err := p.bus.Publish(ctx, domain.TopicBlock, payload); err != nil {
		return fmt.Errorf("failed to publish block for %s: %w", tx.ID, err)
	}
	return nil
}

func blockReason(d *domain.Decision) string {
	reason := fmt.Sprintf("risk score %.2f (ML %.2f)", d.RiskScore, d.MLScore)
	if len(d.ViolatedRules) == 0 {
		return reason
	}
	rules := make([]string, len(d.ViolatedRules))
	for i, r := range d.ViolatedRules {
		rules[i] = string(r)
	}
	return reason + "; rules: " + strings.Join(rules, ", ")
}
