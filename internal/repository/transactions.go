package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `
	id, customer_id, merchant_id, amount, currency, type, location,
	country_code, payment_method, ip_address, device_id, raw_timestamp,
	event_time, created_at, status, is_fraud, fraud_score, fraud_reason,
	severity, degraded, decided_at, confirmed_fraud, confirmed_at`

// Save stores a decided transaction. Saving an id that already exists leaves
// the stored row untouched, so a retried decision never rewrites it. The one
// exception is a degraded row, which a scored decision replaces.
func (r *SQLRepository) Save(ctx context.Context, rec *domain.TransactionRecord) (string, error) {
	if rec == nil || rec.ID == "" {
		return "", fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO transactions (` + transactionColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, is_fraud = excluded.is_fraud,
			fraud_score = excluded.fraud_score, fraud_reason = excluded.fraud_reason,
			severity = excluded.severity, degraded = excluded.degraded,
			decided_at = excluded.decided_at
		WHERE transactions.degraded = 1 AND transactions.confirmed_fraud = 0
			AND excluded.degraded = 0
	`

	var confirmedAt any
	if rec.ConfirmedAt != nil {
		confirmedAt = rec.ConfirmedAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.CustomerID, rec.MerchantID, rec.Amount.String(), rec.Currency,
		rec.Type, rec.Location, rec.CountryCode, rec.PaymentMethod,
		rec.IPAddress, rec.DeviceID, rec.Timestamp,
		rec.EventTime.UTC(), createdAt.UTC(),
		string(rec.Status), boolToInt(rec.IsFraud), rec.FraudScore, rec.FraudReason,
		string(rec.Severity), boolToInt(rec.Degraded), rec.DecidedAt.UTC(),
		boolToInt(rec.ConfirmedFraud), confirmedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save transaction %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

// Get retrieves a transaction record by id.
func (r *SQLRepository) Get(ctx context.Context, txID string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	rec, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkConfirmedFraud flags a transaction as analyst-confirmed fraud. The
// update only matches unconfirmed rows, so a repeated call reports
// applied=false and changes nothing.
func (r *SQLRepository) MarkConfirmedFraud(ctx context.Context, txID string, score float64, reason string) (bool, error) {
	query := `
		UPDATE transactions
		SET confirmed_fraud = 1, confirmed_at = ?, is_fraud = 1,
			status = ?, fraud_score = ?, fraud_reason = ?
		WHERE id = ? AND confirmed_fraud = 0
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		time.Now().UTC(), string(domain.StatusFraud), score, reason, txID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to confirm fraud on %s: %w", txID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}

	// Nothing matched: either already confirmed or unknown.
	var exists int
	err = r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM transactions WHERE id = ?`), txID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// CountRecent counts the customer's transactions with an event time after since.
func (r *SQLRepository) CountRecent(ctx context.Context, customerID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE customer_id = ? AND event_time > ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transactions for %s: %w", customerID, err)
	}
	return count, nil
}

func scanTransaction(row rowScanner) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var amount, status, severity string
	var isFraud, degraded, confirmed int
	var confirmedAt sql.NullTime

	if err := row.Scan(
		&rec.ID, &rec.CustomerID, &rec.MerchantID, &amount, &rec.Currency,
		&rec.Type, &rec.Location, &rec.CountryCode, &rec.PaymentMethod,
		&rec.IPAddress, &rec.DeviceID, &rec.Timestamp,
		&rec.EventTime, &rec.CreatedAt,
		&status, &isFraud, &rec.FraudScore, &rec.FraudReason,
		&severity, &degraded, &rec.DecidedAt,
		&confirmed, &confirmedAt,
	); err != nil {
		return nil, err
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q on transaction %s: %w", amount, rec.ID, err)
	}
	rec.Amount = d
	rec.Status = domain.TransactionStatus(status)
	rec.Severity = domain.Severity(severity)
	rec.IsFraud = isFraud == 1
	rec.Degraded = degraded == 1
	rec.ConfirmedFraud = confirmed == 1
	if confirmedAt.Valid {
		t := confirmedAt.Time
		rec.ConfirmedAt = &t
	}

	return &rec, nil
}
