// Package store persists audit runs, page reports and their findings to
// PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pageprobe/api/schemas"
	"github.com/xkilldash9x/pageprobe/internal/audit"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Schema creates the tables the store writes to. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_runs (
    id          TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    passed      INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    errored     INTEGER NOT NULL DEFAULT 0,
    skipped     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS page_audits (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES audit_runs(id),
    target      TEXT NOT NULL,
    viewport    TEXT NOT NULL DEFAULT '',
    final_url   TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    report      JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS audit_findings (
    id             TEXT PRIMARY KEY,
    run_id         TEXT NOT NULL,
    audit_id       TEXT NOT NULL REFERENCES page_audits(id),
    target         TEXT NOT NULL,
    viewport       TEXT NOT NULL DEFAULT '',
    check_name     TEXT NOT NULL,
    rule           TEXT NOT NULL,
    severity       TEXT NOT NULL,
    description    TEXT NOT NULL,
    evidence       JSONB NOT NULL,
    recommendation TEXT NOT NULL,
    guidelines     TEXT[],
    observed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_findings_run_id_idx ON audit_findings (run_id);
`

const (
	sqlEnsureRun = `
        INSERT INTO audit_runs (id, started_at)
        VALUES ($1, $2)
        ON CONFLICT (id) DO NOTHING;
    `
	sqlUpsertRun = `
        INSERT INTO audit_runs (id, started_at, finished_at, passed, failed, errored, skipped)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            finished_at = EXCLUDED.finished_at,
            passed = EXCLUDED.passed,
            failed = EXCLUDED.failed,
            errored = EXCLUDED.errored,
            skipped = EXCLUDED.skipped;
    `
	sqlInsertAudit = `
        INSERT INTO page_audits (id, run_id, target, viewport, final_url, title, status, started_at, duration_ms, report)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `
	sqlFindingsByRun = `
        SELECT id, audit_id, observed_at, target, viewport, check_name, rule, severity, description, evidence, recommendation, guidelines
        FROM audit_findings
        WHERE run_id = $1
        ORDER BY observed_at ASC, id ASC;
    `
)

var findingColumns = []string{
	"id", "run_id", "audit_id", "target", "viewport", "check_name", "rule", "severity",
	"description", "evidence", "recommendation", "guidelines", "observed_at",
}

// RunRecord summarizes one batch for the audit_runs table.
type RunRecord struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Passed     int
	Failed     int
	Errored    int
	Skipped    int
}

// Store provides a PostgreSQL implementation of report persistence.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pgx pool for dsn and wraps it in a Store. The caller owns
// the returned pool and must close it.
func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
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

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Emit stores a finished report. It lets the Store act as a runner sink.
func (s *Store) Emit(ctx context.Context, r *audit.Report) error {
	return s.PersistReport(ctx, r)
}

// PersistReport writes the report and its findings in one transaction. The
// run row is created on first use so reports can arrive before RecordRun.
func (s *Store) PersistReport(ctx context.Context, r *audit.Report) error {
	if r.RunID == "" {
		return errors.New("report has no run id")
	}
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode report %s: %w", r.ID, err)
	}
	findings := r.Findings()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlEnsureRun, r.RunID, r.StartedAt.UTC()); err != nil {
		return fmt.Errorf("failed to register run %s: %w", r.RunID, err)
	}
	if _, err := tx.Exec(ctx, sqlInsertAudit,
		r.ID, r.RunID, r.Target, r.Viewport, r.FinalURL, r.Title, r.Status(),
		r.StartedAt.UTC(), r.Duration.Milliseconds(), json.RawMessage(doc),
	); err != nil {
		return fmt.Errorf("failed to insert page audit %s: %w", r.ID, err)
	}
	if len(findings) > 0 {
		if err := s.persistFindings(ctx, tx, findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Persisted page audit", zap.String("audit_id", r.ID), zap.Int("findings", len(findings)))
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		evidence := f.Evidence
		if len(evidence) == 0 || string(evidence) == "null" {
			evidence = json.RawMessage("{}")
		}
		rows[i] = []interface{}{
			f.ID, f.RunID, f.AuditID, f.Target, f.Viewport,
			string(f.Check), f.Rule, string(f.Severity), f.Description,
			evidence, f.Recommendation, f.Guidelines,
			f.ObservedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"audit_findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}
	return nil
}

// RecordRun upserts the run's final tallies.
func (s *Store) RecordRun(ctx context.Context, run RunRecord) error {
	_, err := s.pool.Exec(ctx, sqlUpsertRun,
		run.ID, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Passed, run.Failed, run.Errored, run.Skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// FindingsByRun returns every finding stored for runID, oldest first.
func (s *Store) FindingsByRun(ctx context.Context, runID string) ([]schemas.Finding, error) {
	rows, err := s.pool.Query(ctx, sqlFindingsByRun, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var (
			f                  schemas.Finding
			check, severityStr string
		)
		err := rows.Scan(
			&f.ID, &f.AuditID, &f.ObservedAt, &f.Target, &f.Viewport,
			&check, &f.Rule, &severityStr, &f.Description, &f.Evidence,
			&f.Recommendation, &f.Guidelines,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.Check = schemas.Check(check)
		f.Severity = schemas.Severity(severityStr)
		f.RunID = runID
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
