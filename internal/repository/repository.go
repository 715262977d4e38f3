// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fraudlens/fraudlens/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores an analysis run and its transactions atomically with
// session isolation. Recommendations and the delivered breakdown are
// stored as JSON; transactions get their own rows so large runs stream
// back without one giant document.
func (r *SQLRepository) SaveRun(ctx context.Context, sessionID string, run *domain.AnalysisRun) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run with ID is required", ErrInvalidInput)
	}

	recommendations, _ := json.Marshal(run.Recommendations)
	breakdown, _ := json.Marshal(run.FraudReasonBreakdown)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	runQuery := `
		INSERT INTO analysis_runs (
			id, session_id, created_at, recommendations, fraud_reason_breakdown
		) VALUES (?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, r.rebind(runQuery),
		run.ID, sessionID, run.CreatedAt,
		string(recommendations), string(breakdown),
	); err != nil {
		return err
	}

	txQuery := `
		INSERT INTO transactions (
			run_id, session_id, seq, tx_id, amount, currency,
			fraud_probability, is_fraud, category, merchant,
			transaction_country, login_country, card_type,
			transaction_type, fraud_reason, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	stmt, err := tx.PrepareContext(ctx, r.rebind(txQuery))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := range run.Transactions {
		t := &run.Transactions[i]
		if _, err := stmt.ExecContext(ctx,
			run.ID, sessionID, i, t.ID, t.Amount, t.Currency,
			t.FraudProbability, t.IsFraud, t.Category, t.Merchant,
			t.TransactionCountry, t.LoginCountry, t.CardType,
			t.TransactionType, t.FraudReason, t.Timestamp,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetRun retrieves a fully hydrated analysis run with session isolation.
func (r *SQLRepository) GetRun(ctx context.Context, sessionID string, runID string) (*domain.AnalysisRun, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, created_at, recommendations, fraud_reason_breakdown
		FROM analysis_runs
		WHERE session_id = ? AND id = ?
	`

	var run domain.AnalysisRun
	var recommendations, breakdown string

	err := r.db.QueryRowContext(ctx, r.rebind(query), sessionID, runID).Scan(
		&run.ID, &run.SessionID, &run.CreatedAt,
		&recommendations, &breakdown,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(recommendations), &run.Recommendations)
	json.Unmarshal([]byte(breakdown), &run.FraudReasonBreakdown)

	transactions, err := r.loadTransactions(ctx, sessionID, runID)
	if err != nil {
		return nil, err
	}
	run.Transactions = transactions

	return &run, nil
}

func (r *SQLRepository) loadTransactions(ctx context.Context, sessionID, runID string) ([]domain.Transaction, error) {
	query := `
		SELECT tx_id, amount, currency, fraud_probability, is_fraud,
			   category, merchant, transaction_country, login_country,
			   card_type, transaction_type, fraud_reason, timestamp
		FROM transactions
		WHERE session_id = ? AND run_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.ID, &t.Amount, &t.Currency, &t.FraudProbability, &t.IsFraud,
			&t.Category, &t.Merchant, &t.TransactionCountry, &t.LoginCountry,
			&t.CardType, &t.TransactionType, &t.FraudReason, &t.Timestamp,
		); err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}

	return transactions, rows.Err()
}

// ListRuns retrieves all analysis runs for a session, newest first,
// without hydrating transactions.
func (r *SQLRepository) ListRuns(ctx context.Context, sessionID string) ([]*domain.AnalysisRun, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, session_id, created_at, recommendations, fraud_reason_breakdown
		FROM analysis_runs
		WHERE session_id = ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.AnalysisRun
	for rows.Next() {
		var run domain.AnalysisRun
		var recommendations, breakdown string

		if err := rows.Scan(
			&run.ID, &run.SessionID, &run.CreatedAt,
			&recommendations, &breakdown,
		); err != nil {
			return nil, err
		}

		json.Unmarshal([]byte(recommendations), &run.Recommendations)
		json.Unmarshal([]byte(breakdown), &run.FraudReasonBreakdown)
		runs = append(runs, &run)
	}

	return runs, rows.Err()
}

// DeleteRun removes a run, its transactions, and its plot sets.
func (r *SQLRepository) DeleteRun(ctx context.Context, sessionID string, runID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		r.rebind(`DELETE FROM transactions WHERE session_id = ? AND run_id = ?`),
		sessionID, runID,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		r.rebind(`DELETE FROM plot_sets WHERE session_id = ? AND run_id = ?`),
		sessionID, runID,
	); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		r.rebind(`DELETE FROM analysis_runs WHERE session_id = ? AND id = ?`),
		sessionID, runID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// SavePlotSet stores a regenerated plot set with session isolation.
func (r *SQLRepository) SavePlotSet(ctx context.Context, sessionID string, ps *domain.PlotSet) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}
	if ps == nil || ps.RequestID == "" {
		return fmt.Errorf("%w: plot set with request ID is required", ErrInvalidInput)
	}

	plots, _ := json.Marshal(ps.Plots)

	query := `
		INSERT INTO plot_sets (
			request_id, session_id, run_id, fingerprint, plots, message, generated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ps.RequestID, sessionID, ps.RunID, ps.Fingerprint,
		string(plots), ps.Message, ps.GeneratedAt,
	)
	return err
}

// GetPlotSet retrieves a plot set by request ID with session isolation.
func (r *SQLRepository) GetPlotSet(ctx context.Context, sessionID string, requestID string) (*domain.PlotSet, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT request_id, session_id, run_id, fingerprint, plots, message, generated_at
		FROM plot_sets
		WHERE session_id = ? AND request_id = ?
	`

	return r.scanPlotSet(r.db.QueryRowContext(ctx, r.rebind(query), sessionID, requestID))
}

// GetLatestPlotSet retrieves the most recently generated plot set for a run.
func (r *SQLRepository) GetLatestPlotSet(ctx context.Context, sessionID string, runID string) (*domain.PlotSet, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionID is required", ErrInvalidInput)
	}

	query := `
		SELECT request_id, session_id, run_id, fingerprint, plots, message, generated_at
		FROM plot_sets
		WHERE session_id = ? AND run_id = ?
		ORDER BY generated_at DESC
		LIMIT 1
	`

	return r.scanPlotSet(r.db.QueryRowContext(ctx, r.rebind(query), sessionID, runID))
}

func (r *SQLRepository) scanPlotSet(row *sql.Row) (*domain.PlotSet, error) {
	var ps domain.PlotSet
	var plots string
	var message sql.NullString

	err := row.Scan(
		&ps.RequestID, &ps.SessionID, &ps.RunID, &ps.Fingerprint,
		&plots, &message, &ps.GeneratedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	ps.Message = message.String
	json.Unmarshal([]byte(plots), &ps.Plots)

	return &ps, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
