package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/InnoDataNiako/sentra-fraud-detection/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "sentra-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRecord(id, customer string, eventTime time.Time) *domain.TransactionRecord {
	tx := &domain.Transaction{
		ID:            id,
		CustomerID:    customer,
		MerchantID:    "merchant-001",
		Amount:        decimal.RequireFromString("600000.50"),
		Currency:      "XOF",
		Type:          "payment",
		Location:      "Dakar",
		CountryCode:   "SN",
		PaymentMethod: "mobile_money",
		Timestamp:     eventTime.Format(time.RFC3339),
		CreatedAt:     eventTime,
	}
	d := &domain.Decision{
		TransactionID: id,
		RiskScore:     0.63,
		IsFraud:       true,
		Severity:      domain.SeverityMedium,
		ViolatedRules: []domain.RuleID{domain.RuleHighAmount, domain.RuleHighVelocity},
		Timestamp:     eventTime,
	}
	return domain.NewTransactionRecord(tx, eventTime, d)
}

func TestTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGet", func(t *testing.T) {
		rec := testRecord("tx-001", "cust-001", now)

		id, err := repo.Save(ctx, rec)
		if err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		if id != "tx-001" {
			t.Errorf("expected id tx-001, got %s", id)
		}

		got, err := repo.Get(ctx, "tx-001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.Amount.Equal(rec.Amount) {
			t.Errorf("expected amount %s, got %s", rec.Amount, got.Amount)
		}
		if got.Status != domain.StatusPending {
			t.Errorf("expected pending status, got %s", got.Status)
		}
		if !got.IsFraud || got.Severity != domain.SeverityMedium {
			t.Errorf("decision fields not persisted: %+v", got)
		}
		if got.FraudReason != "high_amount, high_velocity" {
			t.Errorf("unexpected reason %q", got.FraudReason)
		}
		if got.ConfirmedFraud || got.ConfirmedAt != nil {
			t.Error("new record must not be confirmed")
		}
	})

	t.Run("SaveIsIdempotent", func(t *testing.T) {
		again := testRecord("tx-001", "cust-001", now)
		again.FraudScore = 0.01

		id, err := repo.Save(ctx, again)
		if err != nil {
			t.Fatalf("repeated Save failed: %v", err)
		}
		if id != "tx-001" {
			t.Errorf("expected same id, got %s", id)
		}

		got, _ := repo.Get(ctx, "tx-001")
		if got.FraudScore != 0.63 {
			t.Errorf("repeated Save must not overwrite, score is %f", got.FraudScore)
		}
	})

	t.Run("ScoredDecisionReplacesDegraded", func(t *testing.T) {
		degraded := testRecord("tx-degraded", "cust-001", now)
		degraded.Degraded = true
		degraded.IsFraud = false
		degraded.FraudScore = 0
		degraded.Status = domain.StatusApproved
		if _, err := repo.Save(ctx, degraded); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		scored := testRecord("tx-degraded", "cust-001", now)
		if _, err := repo.Save(ctx, scored); err != nil {
			t.Fatalf("scored Save failed: %v", err)
		}
		got, _ := repo.Get(ctx, "tx-degraded")
		if got.Degraded || !got.IsFraud || got.FraudScore != 0.63 || got.Status != domain.StatusPending {
			t.Errorf("expected the scored decision to replace the degraded row, got %+v", got)
		}

		again := testRecord("tx-degraded", "cust-001", now)
		again.Degraded = true
		again.FraudScore = 0
		repo.Save(ctx, again)
		got, _ = repo.Get(ctx, "tx-degraded")
		if got.Degraded || got.FraudScore != 0.63 {
			t.Errorf("a degraded decision must not replace a scored row, got %+v", got)
		}
	})

	t.Run("SaveRequiresID", func(t *testing.T) {
		_, err := repo.Save(ctx, testRecord("", "cust-001", now))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MarkConfirmedFraudOnce", func(t *testing.T) {
		applied, err := repo.MarkConfirmedFraud(ctx, "tx-001", domain.ConfirmedFraudScore, "Confirmed by analyst-1: chargeback")
		if err != nil {
			t.Fatalf("MarkConfirmedFraud failed: %v", err)
		}
		if !applied {
			t.Fatal("first confirmation should apply")
		}

		applied, err = repo.MarkConfirmedFraud(ctx, "tx-001", 0.5, "second")
		if err != nil {
			t.Fatalf("second MarkConfirmedFraud failed: %v", err)
		}
		if applied {
			t.Error("second confirmation must not apply")
		}

		got, _ := repo.Get(ctx, "tx-001")
		if got.Status != domain.StatusFraud || got.FraudScore != domain.ConfirmedFraudScore {
			t.Errorf("expected fraud/0.95, got %s/%f", got.Status, got.FraudScore)
		}
		if got.FraudReason != "Confirmed by analyst-1: chargeback" {
			t.Errorf("second call leaked into reason: %q", got.FraudReason)
		}
		if !got.ConfirmedFraud || got.ConfirmedAt == nil {
			t.Error("expected confirmation to be recorded")
		}
	})

	t.Run("MarkConfirmedFraudUnknown", func(t *testing.T) {
		_, err := repo.MarkConfirmedFraud(ctx, "nonexistent", 0.95, "x")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CountRecent", func(t *testing.T) {
		for i, age := range []time.Duration{time.Hour, 2 * time.Hour, 30 * time.Hour} {
			rec := testRecord("tx-count-"+string(rune('a'+i)), "cust-count", now.Add(-age))
			if _, err := repo.Save(ctx, rec); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}

		n, err := repo.CountRecent(ctx, "cust-count", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("CountRecent failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 transactions in 24h, got %d", n)
		}

		n, _ = repo.CountRecent(ctx, "cust-nobody", now.Add(-24*time.Hour))
		if n != 0 {
			t.Errorf("expected 0 for unknown customer, got %d", n)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func testAlert(id string, severity domain.Severity, createdAt time.Time) *domain.Alert {
	return &domain.Alert{
		ID:            id,
		TransactionID: "tx-001",
		Severity:      severity,
		Title:         "Fraud Alert",
		Description:   "test alert",
		Indicators: domain.Indicators{
			CustomerID:    "cust-001",
			Amount:        "600000",
			Currency:      "XOF",
			RiskScore:     0.63,
			ViolatedRules: []domain.RuleID{domain.RuleHighAmount},
		},
		State:     domain.AlertOpen,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("InsertAndFind", func(t *testing.T) {
		if err := repo.Insert(ctx, testAlert("alert-001", domain.SeverityMedium, now)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		got, err := repo.FindByID(ctx, "alert-001")
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if got.State != domain.AlertOpen || got.Severity != domain.SeverityMedium {
			t.Errorf("unexpected alert %+v", got)
		}
		if got.Indicators.Amount != "600000" || len(got.Indicators.ViolatedRules) != 1 {
			t.Errorf("indicators not round-tripped: %+v", got.Indicators)
		}
		if got.ReviewedAt != nil {
			t.Error("new alert must not carry a review time")
		}
	})

	t.Run("Update", func(t *testing.T) {
		a, _ := repo.FindByID(ctx, "alert-001")
		reviewedAt := now.Add(time.Minute)
		a.Severity = domain.SeverityHigh
		a.EscalationCount = 1
		a.State = domain.AlertReviewed
		a.Reviewed = true
		a.ReviewedBy = "analyst-1"
		a.ReviewedAt = &reviewedAt
		a.Resolution = "chargeback"
		a.ConfirmedFraud = true
		a.UpdatedAt = reviewedAt

		if err := repo.Update(ctx, a); err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		got, _ := repo.FindByID(ctx, "alert-001")
		if !got.Reviewed || got.ReviewedBy != "analyst-1" || got.ReviewedAt == nil {
			t.Errorf("review not persisted: %+v", got)
		}
		if got.Severity != domain.SeverityHigh || got.EscalationCount != 1 {
			t.Errorf("escalation not persisted: %+v", got)
		}
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		err := repo.Update(ctx, testAlert("ghost", domain.SeverityLow, now))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListOpen", func(t *testing.T) {
		repo.Insert(ctx, testAlert("alert-002", domain.SeverityLow, now.Add(time.Second)))
		repo.Insert(ctx, testAlert("alert-003", domain.SeverityCritical, now.Add(2*time.Second)))
		repo.Insert(ctx, testAlert("alert-004", domain.SeverityCritical, now.Add(3*time.Second)))

		open, err := repo.ListOpen(ctx, "", 10)
		if err != nil {
			t.Fatalf("ListOpen failed: %v", err)
		}
		if len(open) != 3 {
			t.Fatalf("expected 3 open alerts (alert-001 is reviewed), got %d", len(open))
		}
		if open[0].ID != "alert-004" {
			t.Errorf("expected newest first, got %s", open[0].ID)
		}

		critical, _ := repo.ListOpen(ctx, domain.SeverityCritical, 1)
		if len(critical) != 1 || critical[0].Severity != domain.SeverityCritical {
			t.Errorf("expected one critical alert, got %+v", critical)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "sentra", PostgresPassword: "p'w d"})
	want := `host=localhost port=5432 dbname=sentra sslmode=disable connect_timeout=5 application_name=sentra user='sentra' password='p\'w d'`
	if dsn != want {
		t.Errorf("postgresDSN = %q, want %q", dsn, want)
	}
}
