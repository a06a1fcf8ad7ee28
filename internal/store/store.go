// Package store persists analysis run history and flagged-user findings in
// Postgres. This is the durable hand-off surface for external rendering;
// raw per-user access records are never written here.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/qualys/accessgraph/internal/models"
	"github.com/qualys/accessgraph/internal/reports"
)

type Store struct {
	db *sqlx.DB
}

type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

func New(cfg Config) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS analysis_runs (
			id UUID PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			total_users INT NOT NULL,
			total_groups INT NOT NULL,
			total_accounts INT NOT NULL,
			total_permission_sets INT NOT NULL,
			users_with_prod_rw INT NOT NULL,
			users_with_prod_ro INT NOT NULL,
			users_with_nonprod_rw INT NOT NULL,
			users_with_nonprod_ro INT NOT NULL,
			unique_prod_rw_accounts INT NOT NULL,
			unique_prod_ro_accounts INT NOT NULL,
			unique_nonprod_rw_accounts INT NOT NULL,
			unique_nonprod_ro_accounts INT NOT NULL,
			users_with_both_prod_nonprod_rw INT NOT NULL,
			users_with_cross_environment INT NOT NULL,
			users_with_administrative INT NOT NULL,
			users_with_extensive_access INT NOT NULL,
			high_risk_users INT NOT NULL,
			warnings INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES analysis_runs(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			email TEXT NOT NULL,
			flags TEXT[] NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_findings_run_id ON findings(run_id)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

type AnalysisRun struct {
	ID                         uuid.UUID `db:"id" json:"id"`
	StartedAt                  time.Time `db:"started_at" json:"started_at"`
	FinishedAt                 time.Time `db:"finished_at" json:"finished_at"`
	TotalUsers                 int       `db:"total_users" json:"total_users"`
	TotalGroups                int       `db:"total_groups" json:"total_groups"`
	TotalAccounts              int       `db:"total_accounts" json:"total_accounts"`
	TotalPermissionSets        int       `db:"total_permission_sets" json:"total_permission_sets"`
	UsersWithProdRW            int       `db:"users_with_prod_rw" json:"users_with_prod_rw"`
	UsersWithProdRO            int       `db:"users_with_prod_ro" json:"users_with_prod_ro"`
	UsersWithNonProdRW         int       `db:"users_with_nonprod_rw" json:"users_with_nonprod_rw"`
	UsersWithNonProdRO         int       `db:"users_with_nonprod_ro" json:"users_with_nonprod_ro"`
	UniqueProdRWAccounts       int       `db:"unique_prod_rw_accounts" json:"unique_prod_rw_accounts"`
	UniqueProdROAccounts       int       `db:"unique_prod_ro_accounts" json:"unique_prod_ro_accounts"`
	UniqueNonProdRWAccounts    int       `db:"unique_nonprod_rw_accounts" json:"unique_nonprod_rw_accounts"`
	UniqueNonProdROAccounts    int       `db:"unique_nonprod_ro_accounts" json:"unique_nonprod_ro_accounts"`
	UsersWithBothProdNonProdRW int       `db:"users_with_both_prod_nonprod_rw" json:"users_with_both_prod_nonprod_rw"`
	UsersWithCrossEnvironment  int       `db:"users_with_cross_environment" json:"users_with_cross_environment"`
	UsersWithAdministrative    int       `db:"users_with_administrative" json:"users_with_administrative"`
	UsersWithExtensiveAccess   int       `db:"users_with_extensive_access" json:"users_with_extensive_access"`
	HighRiskUsers              int       `db:"high_risk_users" json:"high_risk_users"`
	Warnings                   int       `db:"warnings" json:"warnings"`
}

type Finding struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	RunID     uuid.UUID      `db:"run_id" json:"run_id"`
	UserID    string         `db:"user_id" json:"user_id"`
	Email     string         `db:"email" json:"email"`
	Flags     pq.StringArray `db:"flags" json:"flags"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// SaveRun records a completed run summary and one finding row per flagged
// user, in a single transaction.
func (s *Store) SaveRun(ctx context.Context, runID uuid.UUID, startedAt, finishedAt time.Time, summary reports.OrgSummary) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analysis_runs (
			id, started_at, finished_at,
			total_users, total_groups, total_accounts, total_permission_sets,
			users_with_prod_rw, users_with_prod_ro,
			users_with_nonprod_rw, users_with_nonprod_ro,
			unique_prod_rw_accounts, unique_prod_ro_accounts,
			unique_nonprod_rw_accounts, unique_nonprod_ro_accounts,
			users_with_both_prod_nonprod_rw,
			users_with_cross_environment, users_with_administrative,
			users_with_extensive_access, high_risk_users, warnings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		runID, startedAt, finishedAt,
		summary.TotalUsers, summary.TotalGroups, summary.TotalAccounts, summary.TotalPermissionSets,
		summary.UsersWithProdRW, summary.UsersWithProdRO,
		summary.UsersWithNonProdRW, summary.UsersWithNonProdRO,
		summary.UniqueProdRWAccounts, summary.UniqueProdROAccounts,
		summary.UniqueNonProdRWAccounts, summary.UniqueNonProdROAccounts,
		summary.UsersWithBothProdNonProdRW,
		summary.UsersWithCrossEnvironment, summary.UsersWithAdministrative,
		summary.UsersWithExtensiveAccess, summary.HighRiskUsers, summary.Warnings,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	now := time.Now()
	for _, flagged := range summary.FlaggedUsers {
		flags := make(pq.StringArray, len(flagged.Flags))
		for i, f := range flagged.Flags {
			flags[i] = string(f)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (id, run_id, user_id, email, flags, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(), runID, flagged.UserID, flagged.Email, flags, now,
		)
		if err != nil {
			return fmt.Errorf("inserting finding for %s: %w", flagged.UserID, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run, `SELECT * FROM analysis_runs WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &run, err
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	runs := []AnalysisRun{}
	err := s.db.SelectContext(ctx, &runs,
		`SELECT * FROM analysis_runs ORDER BY started_at DESC LIMIT $1`, limit)
	return runs, err
}

// LatestRun returns the most recent run, or nil when none exist.
func (s *Store) LatestRun(ctx context.Context) (*AnalysisRun, error) {
	var run AnalysisRun
	err := s.db.GetContext(ctx, &run,
		`SELECT * FROM analysis_runs ORDER BY started_at DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &run, err
}

func (s *Store) ListFindings(ctx context.Context, runID uuid.UUID, flag *models.Flag) ([]Finding, error) {
	findings := []Finding{}
	if flag != nil {
		err := s.db.SelectContext(ctx, &findings,
			`SELECT * FROM findings WHERE run_id = $1 AND $2 = ANY(flags) ORDER BY user_id`,
			runID, string(*flag))
		return findings, err
	}
	err := s.db.SelectContext(ctx, &findings,
		`SELECT * FROM findings WHERE run_id = $1 ORDER BY user_id`, runID)
	return findings, err
}
