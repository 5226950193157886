// Package store keeps the history of batch runs in PostgreSQL.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/consoledeploy/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS batch_runs (
        run_id      TEXT PRIMARY KEY,
        mode        TEXT NOT NULL,
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        total       INTEGER NOT NULL,
        success     INTEGER NOT NULL,
        failure     INTEGER NOT NULL,
        unknown     INTEGER NOT NULL
    )`,
	`CREATE TABLE IF NOT EXISTS site_results (
        run_id      TEXT NOT NULL REFERENCES batch_runs (run_id) ON DELETE CASCADE,
        position    INTEGER NOT NULL,
        site_id     TEXT NOT NULL,
        url         TEXT NOT NULL,
        outcome     TEXT NOT NULL,
        reason      TEXT NOT NULL DEFAULT '',
        started_at  TIMESTAMPTZ NOT NULL,
        finished_at TIMESTAMPTZ NOT NULL,
        PRIMARY KEY (run_id, site_id)
    )`,
	`CREATE INDEX IF NOT EXISTS site_results_site_idx ON site_results (site_id, finished_at DESC)`,
}

const sqlInsertRun = `
        INSERT INTO batch_runs (run_id, mode, started_at, finished_at, total, success, failure, unknown)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

const sqlRecentRuns = `
        SELECT run_id, mode, started_at, finished_at, total, success, failure, unknown
        FROM batch_runs
        ORDER BY started_at DESC
        LIMIT $1;
    `

const sqlSiteHistory = `
        SELECT run_id, site_id, url, outcome, reason, started_at, finished_at
        FROM site_results
        WHERE site_id = $1
        ORDER BY finished_at DESC
        LIMIT $2;
    `

var siteResultColumns = []string{"run_id", "position", "site_id", "url", "outcome", "reason", "started_at", "finished_at"}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID      string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Summary    schemas.Summary
}

// SiteRecord is one stored site result with the run it belongs to.
type SiteRecord struct {
	RunID  string
	Result schemas.SiteResult
}

// Store persists batch reports.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx pool for url.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("invalid database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	return pool, nil
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveReport writes the run row and all site results in one transaction.
func (s *Store) SaveReport(ctx context.Context, report *schemas.BatchReport) error {
	if report == nil || report.RunID == "" {
		return errors.New("report has no run id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	sum := report.Summary
	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Mode.String(),
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		sum.Total, sum.Success, sum.Failure, sum.Unknown,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	if len(report.Results) > 0 {
		if err := s.copyResults(ctx, tx, report); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Saved run.", zap.String("run_id", report.RunID), zap.Int("sites", len(report.Results)))
	return nil
}

func (s *Store) copyResults(ctx context.Context, tx pgx.Tx, report *schemas.BatchReport) error {
	rows := make([][]interface{}, len(report.Results))
	for i, r := range report.Results {
		rows[i] = []interface{}{
			report.RunID, i, r.SiteID, r.URL,
			r.Outcome.String(), r.Reason,
			r.StartedAt.UTC(), r.FinishedAt.UTC(),
		}
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"site_results"}, siteResultColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy site results: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("mismatch in copied site results count: expected %d, got %d", len(rows), n)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.Mode, &r.StartedAt, &r.FinishedAt,
			&r.Summary.Total, &r.Summary.Success, &r.Summary.Failure, &r.Summary.Unknown); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

// SiteHistory returns the latest results recorded for one site, newest first.
func (s *Store) SiteHistory(ctx context.Context, siteID string, limit int) ([]SiteRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, sqlSiteHistory, siteID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query site history: %w", err)
	}
	defer rows.Close()

	var out []SiteRecord
	for rows.Next() {
		var rec SiteRecord
		var outcome string
		if err := rows.Scan(&rec.RunID, &rec.Result.SiteID, &rec.Result.URL, &outcome, &rec.Result.Reason,
			&rec.Result.StartedAt, &rec.Result.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan site row: %w", err)
		}
		if err := rec.Result.Outcome.UnmarshalText([]byte(outcome)); err != nil {
			return nil, fmt.Errorf("site %s in run %s: %w", rec.Result.SiteID, rec.RunID, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}
