package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
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
			dsn = "file:bitacora.db?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/bitacora?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// OpenSQLiteFile opens (creating if needed) a sqlite database at path with the
// pragmas the stores rely on.
func OpenSQLiteFile(ctx context.Context, path string) (*sql.DB, error) {
	dsn := "file:" + path + "?mode=rwc&_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	return Open(ctx, DriverSQLite, dsn)
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	// Some drivers reject multi-statement scripts; replay it statement by
	// statement. Every statement is idempotent.
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// IsUniqueViolation reports whether err is a unique-constraint failure from
// either supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS question_versions (
  id TEXT PRIMARY KEY,
  subject_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  statement TEXT NOT NULL,
  difficulty INTEGER NOT NULL,
  scope TEXT NOT NULL,
  partial_number INTEGER,
  content_json TEXT NOT NULL,
  answer_json TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  revision INTEGER NOT NULL DEFAULT 1,
  parent_id TEXT NOT NULL DEFAULT '',
  author_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS question_versions_pool ON question_versions(subject_id, status);

CREATE TABLE IF NOT EXISTS blueprints (
  id TEXT PRIMARY KEY,
  subject_id TEXT NOT NULL,
  section_id TEXT NOT NULL,
  exam_kind TEXT NOT NULL,
  partial_number INTEGER,
  start_time INTEGER NOT NULL,
  duration_minutes INTEGER NOT NULL,
  max_attempts INTEGER NOT NULL,
  assembly_mode TEXT NOT NULL,
  question_count INTEGER NOT NULL,
  difficulty_min INTEGER NOT NULL,
  difficulty_max INTEGER NOT NULL,
  shuffle_questions BOOLEAN NOT NULL DEFAULT 0,
  shuffle_options BOOLEAN NOT NULL DEFAULT 0,
  manual_ids_json TEXT NOT NULL DEFAULT '[]',
  total_points REAL NOT NULL,
  status TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_links (
  blueprint_id TEXT NOT NULL REFERENCES blueprints(id),
  question_id TEXT NOT NULL REFERENCES question_versions(id),
  points REAL NOT NULL,
  base_order INTEGER NOT NULL,
  PRIMARY KEY (blueprint_id, question_id)
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  blueprint_id TEXT NOT NULL REFERENCES blueprints(id),
  enrollment_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status TEXT NOT NULL,
  actual_start INTEGER,
  deadline INTEGER,
  actual_end INTEGER,
  auto_score REAL NOT NULL DEFAULT 0,
  manual_score REAL NOT NULL DEFAULT 0,
  final_score REAL NOT NULL DEFAULT 0,
  submit_reason TEXT NOT NULL DEFAULT '',
  void_reason TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts(blueprint_id, enrollment_id) WHERE status = 'in_progress';
CREATE UNIQUE INDEX IF NOT EXISTS attempts_number
  ON attempts(blueprint_id, enrollment_id, attempt_number) WHERE status <> 'voided';
CREATE INDEX IF NOT EXISTS attempts_deadline ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS attempt_questions (
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  position INTEGER NOT NULL,
  question_id TEXT NOT NULL,
  points REAL NOT NULL,
  option_perm_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (attempt_id, position)
);

CREATE TABLE IF NOT EXISTS responses (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  question_id TEXT NOT NULL,
  payload_json TEXT NOT NULL DEFAULT '',
  auto_score REAL NOT NULL DEFAULT 0,
  manual_score REAL,
  needs_manual BOOLEAN NOT NULL DEFAULT 0,
  review_state TEXT NOT NULL DEFAULT 'pending',
  feedback TEXT NOT NULL DEFAULT '',
  signals_json TEXT NOT NULL DEFAULT '',
  updated_at INTEGER NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS activities (
  id TEXT PRIMARY KEY,
  section_id TEXT NOT NULL,
  partial_number INTEGER NOT NULL,
  component TEXT NOT NULL,
  name TEXT NOT NULL,
  weight REAL NOT NULL,
  source_scale REAL NOT NULL DEFAULT 10,
  blueprint_id TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS activities_section ON activities(section_id, partial_number);

CREATE TABLE IF NOT EXISTS activity_scores (
  activity_id TEXT NOT NULL REFERENCES activities(id),
  enrollment_id TEXT NOT NULL,
  score REAL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (activity_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS component_weights (
  section_id TEXT PRIMARY KEY,
  continuous REAL NOT NULL,
  online_platform REAL NOT NULL,
  exam REAL NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS final_exam_scores (
  section_id TEXT NOT NULL,
  enrollment_id TEXT NOT NULL,
  score REAL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (section_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS question_versions (
  id TEXT PRIMARY KEY,
  subject_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  statement TEXT NOT NULL,
  difficulty INTEGER NOT NULL,
  scope TEXT NOT NULL,
  partial_number INTEGER,
  content_json TEXT NOT NULL,
  answer_json TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  revision INTEGER NOT NULL DEFAULT 1,
  parent_id TEXT NOT NULL DEFAULT '',
  author_id TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS question_versions_pool ON question_versions(subject_id, status);

CREATE TABLE IF NOT EXISTS blueprints (
  id TEXT PRIMARY KEY,
  subject_id TEXT NOT NULL,
  section_id TEXT NOT NULL,
  exam_kind TEXT NOT NULL,
  partial_number INTEGER,
  start_time BIGINT NOT NULL,
  duration_minutes INTEGER NOT NULL,
  max_attempts INTEGER NOT NULL,
  assembly_mode TEXT NOT NULL,
  question_count INTEGER NOT NULL,
  difficulty_min INTEGER NOT NULL,
  difficulty_max INTEGER NOT NULL,
  shuffle_questions BOOLEAN NOT NULL DEFAULT FALSE,
  shuffle_options BOOLEAN NOT NULL DEFAULT FALSE,
  manual_ids_json TEXT NOT NULL DEFAULT '[]',
  total_points DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS exam_links (
  blueprint_id TEXT NOT NULL REFERENCES blueprints(id),
  question_id TEXT NOT NULL REFERENCES question_versions(id),
  points DOUBLE PRECISION NOT NULL,
  base_order INTEGER NOT NULL,
  PRIMARY KEY (blueprint_id, question_id)
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  blueprint_id TEXT NOT NULL REFERENCES blueprints(id),
  enrollment_id TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status TEXT NOT NULL,
  actual_start BIGINT,
  deadline BIGINT,
  actual_end BIGINT,
  auto_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  manual_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  final_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  submit_reason TEXT NOT NULL DEFAULT '',
  void_reason TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_in_progress
  ON attempts(blueprint_id, enrollment_id) WHERE status = 'in_progress';
CREATE UNIQUE INDEX IF NOT EXISTS attempts_number
  ON attempts(blueprint_id, enrollment_id, attempt_number) WHERE status <> 'voided';
CREATE INDEX IF NOT EXISTS attempts_deadline ON attempts(status, deadline);

CREATE TABLE IF NOT EXISTS attempt_questions (
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  position INTEGER NOT NULL,
  question_id TEXT NOT NULL,
  points DOUBLE PRECISION NOT NULL,
  option_perm_json TEXT NOT NULL DEFAULT '[]',
  PRIMARY KEY (attempt_id, position)
);

CREATE TABLE IF NOT EXISTS responses (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  question_id TEXT NOT NULL,
  payload_json TEXT NOT NULL DEFAULT '',
  auto_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  manual_score DOUBLE PRECISION,
  needs_manual BOOLEAN NOT NULL DEFAULT FALSE,
  review_state TEXT NOT NULL DEFAULT 'pending',
  feedback TEXT NOT NULL DEFAULT '',
  signals_json TEXT NOT NULL DEFAULT '',
  updated_at BIGINT NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS activities (
  id TEXT PRIMARY KEY,
  section_id TEXT NOT NULL,
  partial_number INTEGER NOT NULL,
  component TEXT NOT NULL,
  name TEXT NOT NULL,
  weight DOUBLE PRECISION NOT NULL,
  source_scale DOUBLE PRECISION NOT NULL DEFAULT 10,
  blueprint_id TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS activities_section ON activities(section_id, partial_number);

CREATE TABLE IF NOT EXISTS activity_scores (
  activity_id TEXT NOT NULL REFERENCES activities(id),
  enrollment_id TEXT NOT NULL,
  score DOUBLE PRECISION,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (activity_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS component_weights (
  section_id TEXT PRIMARY KEY,
  continuous DOUBLE PRECISION NOT NULL,
  online_platform DOUBLE PRECISION NOT NULL,
  exam DOUBLE PRECISION NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS final_exam_scores (
  section_id TEXT NOT NULL,
  enrollment_id TEXT NOT NULL,
  score DOUBLE PRECISION,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (section_id, enrollment_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
