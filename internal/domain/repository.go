// Package domain defines the core interfaces and types for FraudLens.
package domain

import (
	"context"
	"time"
)

// Repository persists analysis runs and regenerated plot sets.
// All methods require a sessionID for strict per-analyst isolation.
type Repository interface {
	// Analysis run operations. SaveRun stores the run together with its
	// transactions; GetRun returns the fully hydrated run.
	SaveRun(ctx context.Context, sessionID string, run *AnalysisRun) error
	GetRun(ctx context.Context, sessionID string, runID string) (*AnalysisRun, error)
	ListRuns(ctx context.Context, sessionID string) ([]*AnalysisRun, error)
	DeleteRun(ctx context.Context, sessionID string, runID string) error

	// Plot set operations
	SavePlotSet(ctx context.Context, sessionID string, ps *PlotSet) error
	GetPlotSet(ctx context.Context, sessionID string, requestID string) (*PlotSet, error)
	GetLatestPlotSet(ctx context.Context, sessionID string, runID string) (*PlotSet, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
