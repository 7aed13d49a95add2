// SPDX-License-Identifier: Apache-2.0

// Package state owns the schema_migrations table (spec §4.2): its schema,
// reads, and transactional writes. Grounded on the teacher's pkg/state,
// which owns an equivalent migrations bookkeeping table in the same way —
// a dedicated *sql.DB connection, schema-qualified via search_path, with an
// idempotent CREATE TABLE IF NOT EXISTS on first use.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/oapi-codegen/nullable"

	"github.com/pgevodb/pgevodb/pkg/db"
	"github.com/pgevodb/pgevodb/pkg/migration"
)

const tableName = "schema_migrations"

// sqlInit creates schema_migrations in the configured schema, idempotently.
// %[1]s is the schema-qualified, already-quoted table identifier.
const sqlInit = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id				TEXT PRIMARY KEY,
	checksum		TEXT NOT NULL DEFAULT '',
	status			TEXT NOT NULL,
	applied_at		TIMESTAMPTZ,
	applied_by		TEXT NOT NULL DEFAULT '',
	execution_ms	BIGINT NOT NULL DEFAULT 0,
	verify_ok		BOOLEAN,
	log_ref			TEXT NOT NULL DEFAULT ''
)`

// initLockKey serialises concurrent CREATE TABLE IF NOT EXISTS calls against
// a brand new database; it is unrelated to the Lock Manager's configured
// lock_key (spec §4.3), which serialises whole orchestrator runs.
const initLockKey int64 = 0x7067_6576_6f64_62

// Store is the State Store: the only component permitted to read or write
// schema_migrations.
type Store struct {
	db          db.DB
	tableName   string // schema-qualified, quoted
	versionName string // schema-qualified, quoted; schema_migrations_version
}

// New opens a dedicated connection to pgURL with search_path set to schema,
// and ensures schema_migrations exists in it. The connection is held for
// the lifetime of the Store (spec §5 "one database session, owned by the
// Orchestrator for its lifetime" — the State Store's session is this one).
func New(ctx context.Context, pgURL, schema string) (*Store, error) {
	dsn, err := pq.ParseURL(pgURL)
	if err != nil {
		dsn = pgURL
	}
	if schema != "" {
		dsn += " search_path=" + schema
	}

	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening state store connection: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connecting to state store: %w", err)
	}

	qualified := tableName
	versionQualified := tableName + "_version"
	if schema != "" {
		qualified = pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(tableName)
		versionQualified = pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(tableName+"_version")
	}

	s := &Store{db: &db.RDB{DB: conn}, tableName: qualified, versionName: versionQualified}
	if err := s.init(ctx, conn, schema); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already-open DB, skipping table initialisation. Tests
// that set up their own schema use this to inject a fake or pre-migrated
// connection.
func NewWithDB(database db.DB, tableName string) *Store {
	return &Store{db: database, tableName: tableName, versionName: tableName + "_version"}
}

func (s *Store) init(ctx context.Context, conn *sql.DB, schema string) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", initLockKey); err != nil {
		return fmt.Errorf("acquiring init lock: %w", err)
	}

	if schema != "" {
		if _, err := tx.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+pq.QuoteIdentifier(schema)); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(sqlInit, s.tableName)); err != nil {
		return fmt.Errorf("creating schema_migrations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(sqlInitVersionTable, s.versionName)); err != nil {
		return fmt.Errorf("creating version table: %w", err)
	}

	return tx.Commit()
}

// Close releases the Store's underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// List returns every record, ordered by id (spec I5's ordering applies to
// planning, not storage, but a stable read order makes `status` output
// deterministic too).
func (s *Store) List(ctx context.Context) ([]migration.Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, checksum, status, applied_at, applied_by, execution_ms, verify_ok, log_ref FROM %s ORDER BY id`,
		s.tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []migration.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns the record for id, or (Record{}, false, nil) if absent.
func (s *Store) Get(ctx context.Context, id string) (migration.Record, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT id, checksum, status, applied_at, applied_by, execution_ms, verify_ok, log_ref FROM %s WHERE id = $1`,
		s.tableName), id)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return migration.Record{}, false, nil
	}
	if err != nil {
		return migration.Record{}, false, err
	}
	return r, true, nil
}

// UpsertFields carries the optional fields of an upsert_status call (spec
// §4.2); nil/zero-valued fields leave the corresponding column unchanged on
// conflict, matching the teacher's pattern of building variadic SQL calls
// around a single primary key.
type UpsertFields struct {
	Checksum    *string
	AppliedAt   *time.Time
	AppliedBy   *string
	ExecutionMs *int64
	LogRef      *string
}

// UpsertStatus writes id's status atomically, in its own transaction,
// disjoint from any migration script's transaction (spec §4.2, I3). Columns
// absent from fields retain their current value via COALESCE against the
// existing row (or the column default on first insert).
func (s *Store) UpsertStatus(ctx context.Context, id string, status migration.Status, fields UpsertFields) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, checksum, status, applied_at, applied_by, execution_ms, log_ref)
			VALUES ($1, COALESCE($2, ''), $3, $4, COALESCE($5, ''), COALESCE($6, 0), COALESCE($7, ''))
			ON CONFLICT (id) DO UPDATE SET
				checksum     = COALESCE($2, %[1]s.checksum),
				status       = $3,
				applied_at   = COALESCE($4, %[1]s.applied_at),
				applied_by   = COALESCE($5, %[1]s.applied_by),
				execution_ms = COALESCE($6, %[1]s.execution_ms),
				log_ref      = COALESCE($7, %[1]s.log_ref)
		`, s.tableName),
			id, fields.Checksum, string(status), fields.AppliedAt, fields.AppliedBy, fields.ExecutionMs, fields.LogRef)
		return err
	})
}

// ClearExecutionFields nulls applied_at and verify_ok and resets applied_by
// to the empty string and execution_ms to 0 (both columns are NOT NULL), while preserving
// checksum and log_ref (spec §4.2, used by retry and reset-failed).
func (s *Store) ClearExecutionFields(ctx context.Context, id string) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET applied_at = NULL, applied_by = '', execution_ms = 0, verify_ok = NULL
			WHERE id = $1
		`, s.tableName), id)
		return err
	})
}

// SetVerify records the outcome of a step's verify.sql run.
func (s *Store) SetVerify(ctx context.Context, id string, ok bool) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET verify_ok = $2 WHERE id = $1`, s.tableName), id, ok)
		return err
	})
}

// Delete removes id's record entirely (used by `reset-failed --delete`).
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName), id)
		return err
	})
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (migration.Record, error) {
	var r migration.Record
	var appliedAt sql.NullTime
	var verifyOK sql.NullBool
	if err := s.Scan(&r.ID, &r.Checksum, &r.Status, &appliedAt, &r.AppliedBy, &r.ExecutionMs, &verifyOK, &r.LogRef); err != nil {
		return migration.Record{}, err
	}

	if appliedAt.Valid {
		t := appliedAt.Time
		r.AppliedAt = &t
	}
	if verifyOK.Valid {
		r.VerifyOK = nullable.NewNullableWithValue(verifyOK.Bool)
	} else {
		r.VerifyOK = nullable.NewNullNullable[bool]()
	}
	return r, nil
}
