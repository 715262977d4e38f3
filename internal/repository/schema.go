package repository

// Schema definitions for the FraudLens database.
// Compatible with both SQLite and PostgreSQL.

const schemaAnalysisRuns = `
CREATE TABLE IF NOT EXISTS analysis_runs (
    id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    recommendations TEXT NOT NULL,
    fraud_reason_breakdown TEXT NOT NULL,
    PRIMARY KEY (id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_analysis_runs_session ON analysis_runs(session_id);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs(session_id, created_at);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    run_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    tx_id TEXT,
    amount REAL NOT NULL,
    currency TEXT,
    fraud_probability REAL NOT NULL,
    is_fraud INTEGER NOT NULL,
    category TEXT,
    merchant TEXT,
    transaction_country TEXT,
    login_country TEXT,
    card_type TEXT,
    transaction_type TEXT,
    fraud_reason TEXT,
    timestamp TEXT,
    PRIMARY KEY (run_id, session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_transactions_run ON transactions(session_id, run_id);
`

const schemaPlotSets = `
CREATE TABLE IF NOT EXISTS plot_sets (
    request_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    run_id TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    plots TEXT NOT NULL,
    message TEXT,
    generated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (request_id, session_id)
);

CREATE INDEX IF NOT EXISTS idx_plot_sets_run ON plot_sets(session_id, run_id);
CREATE INDEX IF NOT EXISTS idx_plot_sets_generated ON plot_sets(session_id, run_id, generated_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaAnalysisRuns,
		schemaTransactions,
		schemaPlotSets,
	}
}
