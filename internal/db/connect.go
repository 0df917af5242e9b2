package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:radcoach.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/radcoach?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS learners (
  code TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'enabled',
  created_at INTEGER NOT NULL,
  localize_mode TEXT NOT NULL DEFAULT 'active',
  report_mode TEXT NOT NULL DEFAULT 'active',
  took_localize_pre INTEGER NOT NULL DEFAULT 0,
  took_localize_post INTEGER NOT NULL DEFAULT 0,
  took_report_pre INTEGER NOT NULL DEFAULT 0,
  took_report_post INTEGER NOT NULL DEFAULT 0,
  localize_completed INTEGER NOT NULL DEFAULT 0,
  report_completed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL REFERENCES learners(code) ON DELETE CASCADE,
  modality TEXT NOT NULL,
  case_id TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  selections_json TEXT NOT NULL DEFAULT '',
  findings TEXT NOT NULL DEFAULT '',
  correct_count INTEGER NOT NULL DEFAULT 0,
  incorrect_count INTEGER NOT NULL DEFAULT 0,
  elapsed_ms INTEGER NOT NULL DEFAULT 0,
  checkpoint_ms INTEGER NOT NULL DEFAULT 0,
  green_score REAL,
  green_std REAL,
  grade_json TEXT NOT NULL DEFAULT '',
  progress_snapshot INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_submissions_learner_case
  ON submissions(learner_id, case_id);
CREATE INDEX IF NOT EXISTS idx_submissions_learner_modality
  ON submissions(learner_id, modality, created_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS learners (
  code TEXT PRIMARY KEY,
  status TEXT NOT NULL DEFAULT 'enabled',
  created_at BIGINT NOT NULL,
  localize_mode TEXT NOT NULL DEFAULT 'active',
  report_mode TEXT NOT NULL DEFAULT 'active',
  took_localize_pre BOOLEAN NOT NULL DEFAULT FALSE,
  took_localize_post BOOLEAN NOT NULL DEFAULT FALSE,
  took_report_pre BOOLEAN NOT NULL DEFAULT FALSE,
  took_report_post BOOLEAN NOT NULL DEFAULT FALSE,
  localize_completed INTEGER NOT NULL DEFAULT 0,
  report_completed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  learner_id TEXT NOT NULL REFERENCES learners(code) ON DELETE CASCADE,
  modality TEXT NOT NULL,
  case_id TEXT NOT NULL,
  created_at BIGINT NOT NULL,
  selections_json TEXT NOT NULL DEFAULT '',
  findings TEXT NOT NULL DEFAULT '',
  correct_count INTEGER NOT NULL DEFAULT 0,
  incorrect_count INTEGER NOT NULL DEFAULT 0,
  elapsed_ms BIGINT NOT NULL DEFAULT 0,
  checkpoint_ms BIGINT NOT NULL DEFAULT 0,
  green_score DOUBLE PRECISION,
  green_std DOUBLE PRECISION,
  grade_json TEXT NOT NULL DEFAULT '',
  progress_snapshot INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_submissions_learner_case
  ON submissions(learner_id, case_id);
CREATE INDEX IF NOT EXISTS idx_submissions_learner_modality
  ON submissions(learner_id, modality, created_at);
`
