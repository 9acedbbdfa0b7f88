package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents an incoming payment to be decided.
type Transaction struct {
	// Core identifiers
	ID         string `json:"transactionId" validate:"required"`
	CustomerID string `json:"customerId" validate:"required"`
	MerchantID string `json:"merchantId,omitempty"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency" validate:"required,len=3"`

	// Transaction type (e.g., "payment", "transfer", "withdrawal")
	Type string `json:"transactionType,omitempty"`

	// Origin
	Location      string `json:"location,omitempty"`
	CountryCode   string `json:"countryCode,omitempty" validate:"omitempty,len=2"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	IPAddress     string `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	DeviceID      string `json:"deviceId,omitempty"`

	// Timestamp is kept as received. See ParseTimestamp.
	Timestamp string    `json:"timestamp,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TransactionStatus is the lifecycle status written once by the engine.
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusApproved TransactionStatus = "approved"
	StatusRejected TransactionStatus = "rejected"
	StatusFraud    TransactionStatus = "fraud"
)

// StatusFor derives the persisted status from a decision.
func StatusFor(d *Decision) TransactionStatus {
	switch {
	case d.ShouldBlock:
		return StatusRejected
	case d.IsFraud:
		return StatusPending
	default:
		return StatusApproved
	}
}

// TransactionRecord is a transaction with its decision fields attached.
type TransactionRecord struct {
	Transaction

	EventTime   time.Time         `json:"eventTime"`
	Status      TransactionStatus `json:"status"`
	IsFraud     bool              `json:"isFraud"`
	FraudScore  float64           `json:"fraudScore"`
	FraudReason string            `json:"fraudReason,omitempty"`
	Severity    Severity          `json:"severity"`
	Degraded    bool              `json:"degraded"`
	DecidedAt   time.Time         `json:"decidedAt"`

	// Set once by MarkConfirmedFraud.
	ConfirmedFraud bool       `json:"confirmedFraud"`
	ConfirmedAt    *time.Time `json:"confirmedAt,omitempty"`
}

// NewTransactionRecord attaches decision fields to a transaction.
func NewTransactionRecord(tx *Transaction, eventTime time.Time, d *Decision) *TransactionRecord {
	reasons := make([]string, 0, len(d.ViolatedRules))
	for _, r := range d.ViolatedRules {
		reasons = append(reasons, string(r))
	}

	return &TransactionRecord{
		Transaction: *tx,
		EventTime:   eventTime,
		Status:      StatusFor(d),
		IsFraud:     d.IsFraud,
		FraudScore:  d.RiskScore,
		FraudReason: strings.Join(reasons, ", "),
		Severity:    d.Severity,
		Degraded:    d.Degraded,
		DecidedAt:   d.Timestamp,
	}
}

// timestampLayouts are tried in order by ParseTimestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses a raw transaction timestamp. Layouts without an
// offset are read in loc. ok is false when no accepted layout matches.
func ParseTimestamp(raw string, loc *time.Location) (t time.Time, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
