package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
)

const alertColumns = `
	id, transaction_id, severity, title, description, indicators, state,
	reviewed, reviewed_by, reviewed_at, resolution, confirmed_fraud,
	escalation_count, created_at, updated_at`

// Insert stores a new alert.
func (r *SQLRepository) Insert(ctx context.Context, alert *domain.Alert) error {
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	indicators, err := json.Marshal(alert.Indicators)
	if err != nil {
		return fmt.Errorf("failed to encode indicators: %w", err)
	}

	query := `
		INSERT INTO alerts (` + alertColumns + `
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TransactionID, string(alert.Severity), alert.Title, alert.Description,
		string(indicators), string(alert.State),
		boolToInt(alert.Reviewed), alert.ReviewedBy, reviewedAt(alert), alert.Resolution,
		boolToInt(alert.ConfirmedFraud), alert.EscalationCount,
		alert.CreatedAt.UTC(), alert.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
	}
	return nil
}

// Update overwrites the mutable alert fields.
func (r *SQLRepository) Update(ctx context.Context, alert *domain.Alert) error {
	query := `
		UPDATE alerts
		SET severity = ?, title = ?, description = ?, state = ?, reviewed = ?, reviewed_by = ?,
			reviewed_at = ?, resolution = ?, confirmed_fraud = ?, escalation_count = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		string(alert.Severity), alert.Title, alert.Description, string(alert.State),
		boolToInt(alert.Reviewed), alert.ReviewedBy, reviewedAt(alert), alert.Resolution,
		boolToInt(alert.ConfirmedFraud), alert.EscalationCount,
		alert.UpdatedAt.UTC(), alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// FindByID retrieves an alert by id.
func (r *SQLRepository) FindByID(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListOpen returns unreviewed alerts, newest first.
func (r *SQLRepository) ListOpen(ctx context.Context, severity domain.Severity, limit int) ([]*domain.Alert, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE reviewed = 0`
	args := []any{}
	if severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(severity))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var severity, indicators, state string
	var reviewed, confirmed int
	var reviewedAt sql.NullTime

	if err := row.Scan(
		&a.ID, &a.TransactionID, &severity, &a.Title, &a.Description, &indicators, &state,
		&reviewed, &a.ReviewedBy, &reviewedAt, &a.Resolution, &confirmed,
		&a.EscalationCount, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(indicators), &a.Indicators); err != nil {
		return nil, fmt.Errorf("failed to parse indicators for alert %s: %w", a.ID, err)
	}
	a.Severity = domain.Severity(severity)
	a.State = domain.AlertState(state)
	a.Reviewed = reviewed == 1
	a.ConfirmedFraud = confirmed == 1
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}

	return &a, nil
}

func reviewedAt(a *domain.Alert) any {
	if a.ReviewedAt == nil {
		return nil
	}
	return a.ReviewedAt.UTC()
}
