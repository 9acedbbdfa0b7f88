package repository

// Schema definitions for the Sentra database.
// Compatible with both SQLite and PostgreSQL.

// Amounts are stored as decimal strings so that no precision is lost.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    country_code TEXT NOT NULL DEFAULT '',
    payment_method TEXT NOT NULL DEFAULT '',
    ip_address TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    raw_timestamp TEXT NOT NULL DEFAULT '',
    event_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    status TEXT NOT NULL,
    is_fraud INTEGER NOT NULL DEFAULT 0,
    fraud_score REAL NOT NULL DEFAULT 0,
    fraud_reason TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    degraded INTEGER NOT NULL DEFAULT 0,
    decided_at TIMESTAMP NOT NULL,
    confirmed_fraud INTEGER NOT NULL DEFAULT 0,
    confirmed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, event_time);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    severity TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    indicators TEXT NOT NULL,
    state TEXT NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    reviewed_by TEXT NOT NULL DEFAULT '',
    reviewed_at TIMESTAMP,
    resolution TEXT NOT NULL DEFAULT '',
    confirmed_fraud INTEGER NOT NULL DEFAULT 0,
    escalation_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_transaction ON alerts(transaction_id);
CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(reviewed, severity, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaAlerts,
	}
}
