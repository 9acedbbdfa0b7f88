// Package alerting manages fraud alerts from creation through review.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/InnoDataNiako/sentra-fraud-detection/internal/metrics"
	"github.com/google/uuid"
)

// transitions is the alert state machine. Escalation keeps an alert open at
// a higher severity; review is terminal.
var transitions = map[domain.AlertState]map[domain.AlertEvent]domain.AlertState{
	domain.AlertOpen: {
		domain.EventEscalate: domain.AlertOpen,
		domain.EventReview:   domain.AlertReviewed,
	},
	domain.AlertReviewed: {},
}

// next returns the state reached from s on e.
func next(s domain.AlertState, e domain.AlertEvent) (domain.AlertState, error) {
	to, ok := transitions[s][e]
	if !ok {
		return s, fmt.Errorf("%w: %s on %s alert", domain.ErrInvalidTransition, e, s)
	}
	return to, nil
}

// FraudConfirmer records analyst-confirmed fraud on a transaction.
type FraudConfirmer interface {
	MarkConfirmedFraud(ctx context.Context, txID string, score float64, reason string) (applied bool, err error)
}

// Lifecycle creates, escalates and reviews alerts. Mutations of one alert are
// serialized; different alerts proceed in parallel.
type Lifecycle struct {
	alerts   domain.AlertStore
	txs      FraudConfirmer
	notifier domain.Notifier
	locks    *keyLock
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithNotifier sets the sink alerts are delivered to.
func WithNotifier(n domain.Notifier) Option {
	return func(l *Lifecycle) {
		l.notifier = n
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lifecycle) {
		l.logger = logger
	}
}

// New creates an alert lifecycle over the given stores.
func New(alerts domain.AlertStore, txs FraudConfirmer, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		alerts: alerts,
		txs:    txs,
		locks:  newKeyLock(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Create raises an alert for a decision, capturing the decision as it is now.
func (l *Lifecycle) Create(ctx context.Context, tx *domain.Transaction, d *domain.Decision) (*domain.Alert, error) {
	if tx == nil || d == nil {
		return nil, &domain.ValidationError{Field: "decision", Reason: "transaction and decision are required"}
	}
	if !d.Severity.Valid() {
		return nil, &domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", d.Severity)}
	}

	now := l.now().UTC()
	alert := &domain.Alert{
		ID:            uuid.New().String(),
		TransactionID: tx.ID,
		Severity:      d.Severity,
		Title:         Title(d.Severity),
		Description:   describe(tx, d),
		Indicators: domain.Indicators{
			CustomerID:     tx.CustomerID,
			Amount:         tx.Amount.String(),
			Currency:       tx.Currency,
			RiskScore:      d.RiskScore,
			MLScore:        d.MLScore,
			BusinessScore:  d.BusinessScore,
			ViolatedRules:  append([]domain.RuleID(nil), d.ViolatedRules...),
			Strategy:       d.Strategy,
			ShouldBlock:    d.ShouldBlock,
			Recommendation: d.Recommendation,
		},
		State:     domain.AlertOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.alerts.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert for %s: %w", tx.ID, err)
	}

	metrics.AlertsTotal.WithLabelValues("created", string(alert.Severity)).Inc()
	l.logger.Info("alert created",
		"alert_id", alert.ID,
		"tx_id", tx.ID,
		"severity", alert.Severity,
	)

	l.notify(ctx, alert)
	return alert, nil
}

// Escalate raises the alert one severity band and notifies again. An alert
// already at critical is returned unchanged without a write or notification.
func (l *Lifecycle) Escalate(ctx context.Context, alertID, reason string) (*domain.Alert, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, &domain.ValidationError{Field: "reason", Reason: "escalation reason is required"}
	}

	unlock, err := l.locks.lock(ctx, alertID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	alert, err := l.alerts.FindByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	state, err := next(alert.State, domain.EventEscalate)
	if err != nil {
		return nil, err
	}
	if alert.Severity == domain.SeverityCritical {
		return alert, nil
	}

	alert.State = state
	alert.Severity = alert.Severity.Next()
	alert.Title = Title(alert.Severity)
	alert.EscalationCount++
	alert.Description += fmt.Sprintf("\n\nEscalated to %s: %s", strings.ToUpper(string(alert.Severity)), reason)
	alert.UpdatedAt = l.now().UTC()

	if err := l.alerts.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", alertID, err)
	}

	metrics.AlertsTotal.WithLabelValues("escalated", string(alert.Severity)).Inc()
	l.logger.Info("alert escalated",
		"alert_id", alert.ID,
		"severity", alert.Severity,
		"escalation_count", alert.EscalationCount,
	)

	l.notify(ctx, alert)
	return alert, nil
}

// MarkReviewed closes the alert. With confirmedFraud the underlying
// transaction is marked as confirmed fraud before the alert is updated. A
// reviewed alert is returned unchanged and nothing is re-applied.
func (l *Lifecycle) MarkReviewed(ctx context.Context, alertID, reviewerID, resolution string, confirmedFraud bool) (*domain.Alert, error) {
	reviewerID = strings.TrimSpace(reviewerID)
	if reviewerID == "" {
		return nil, &domain.ValidationError{Field: "reviewerId", Reason: "reviewer is required"}
	}

	unlock, err := l.locks.lock(ctx, alertID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	alert, err := l.alerts.FindByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.State == domain.AlertReviewed {
		return alert, nil
	}

	state, err := next(alert.State, domain.EventReview)
	if err != nil {
		return nil, err
	}

	if confirmedFraud {
		reason := fmt.Sprintf("Confirmed by %s: %s", reviewerID, resolution)
		applied, err := l.txs.MarkConfirmedFraud(ctx, alert.TransactionID, domain.ConfirmedFraudScore, reason)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm fraud on %s: %w", alert.TransactionID, err)
		}
		if !applied {
			l.logger.Info("transaction already confirmed as fraud",
				"alert_id", alert.ID,
				"tx_id", alert.TransactionID,
			)
		}
	}

	now := l.now().UTC()
	alert.State = state
	alert.Reviewed = true
	alert.ReviewedBy = reviewerID
	alert.ReviewedAt = &now
	alert.Resolution = resolution
	alert.ConfirmedFraud = confirmedFraud
	alert.UpdatedAt = now

	if err := l.alerts.Update(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to update alert %s: %w", alertID, err)
	}

	metrics.AlertsTotal.WithLabelValues("reviewed", string(alert.Severity)).Inc()
	l.logger.Info("alert reviewed",
		"alert_id", alert.ID,
		"reviewer_id", reviewerID,
		"confirmed_fraud", confirmedFraud,
	)

	return alert, nil
}

// Get returns one alert.
func (l *Lifecycle) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	return l.alerts.FindByID(ctx, alertID)
}

// ListOpen returns unreviewed alerts, newest first.
func (l *Lifecycle) ListOpen(ctx context.Context, severity domain.Severity, limit int) ([]*domain.Alert, error) {
	if severity != "" && !severity.Valid() {
		return nil, &domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}
	return l.alerts.ListOpen(ctx, severity, limit)
}

// notify delivers the alert. Failures are logged only.
func (l *Lifecycle) notify(ctx context.Context, alert *domain.Alert) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Notify(ctx, alert); err != nil {
		l.logger.Warn("alert notification failed",
			"alert_id", alert.ID,
			"error", err,
		)
	}
}

// Title returns the alert title for a severity.
func Title(s domain.Severity) string {
	switch s {
	case domain.SeverityCritical:
		return "Fraud Alert - CRITICAL - Automatic block"
	case domain.SeverityHigh:
		return "Fraud Alert - HIGH - Intervention required"
	case domain.SeverityMedium:
		return "Fraud Alert - MEDIUM - Investigation needed"
	default:
		return "Fraud Alert - LOW - Monitoring"
	}
}

func describe(tx *domain.Transaction, d *domain.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suspicious transaction %s for customer %s\n", tx.ID, tx.CustomerID)
	fmt.Fprintf(&b, "Amount: %s %s\n", tx.Amount.String(), tx.Currency)
	fmt.Fprintf(&b, "Risk score: %.2f (ML %.2f, business %.2f)\n", d.RiskScore, d.MLScore, d.BusinessScore)
	if len(d.ViolatedRules) > 0 {
		rules := make([]string, len(d.ViolatedRules))
		for i, r := range d.ViolatedRules {
			rules[i] = string(r)
		}
		fmt.Fprintf(&b, "Violated rules: %s\n", strings.Join(rules, ", "))
	}
	if d.Degraded {
		fmt.Fprintf(&b, "Decided in degraded mode: %s\n", d.DegradedReason)
	}
	fmt.Fprintf(&b, "Recommendation: %s", d.Recommendation)
	return b.String()
}
