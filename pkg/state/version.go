// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/mod/semver"
)

// VersionCompatibility is the result of comparing the running engine's
// version against the version recorded in schema_migrations_version (spec §5
// "Engine/schema version compatibility", grounded on the teacher's
// pkg/state/version.go).
type VersionCompatibility int

const (
	VersionCompatCheckSkipped VersionCompatibility = iota
	VersionCompatNotInitialized
	VersionCompatEngineOlder
	VersionCompatEqual
	VersionCompatEngineNewer
)

const sqlInitVersionTable = `
CREATE TABLE IF NOT EXISTS %[1]s (
	version			TEXT NOT NULL,
	recorded_at		TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RecordVersion appends engineVersion to the schema's version history. New
// creates the table inside the same init lock as schema_migrations;
// RecordVersion also creates it if absent (a Store built with NewWithDB
// skips New's initialisation).
func (s *Store) RecordVersion(ctx context.Context, engineVersion string) error {
	qualified := s.versionName
	return s.db.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(sqlInitVersionTable, qualified)); err != nil {
			return fmt.Errorf("creating version table: %w", err)
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (version) VALUES ($1)`, qualified), engineVersion)
		return err
	})
}

// VersionCompatibility compares engineVersion against the most recently
// recorded schema version. "development" on either side skips the check,
// matching the teacher's treatment of unreleased builds.
func (s *Store) VersionCompatibility(ctx context.Context, engineVersion string) (VersionCompatibility, error) {
	if engineVersion == "development" {
		return VersionCompatCheckSkipped, nil
	}

	schemaVersion, err := s.schemaVersion(ctx)
	if err == sql.ErrNoRows {
		return VersionCompatNotInitialized, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	if schemaVersion == "development" {
		return VersionCompatCheckSkipped, nil
	}

	schemaV := ensureVPrefix(schemaVersion)
	engineV := ensureVPrefix(engineVersion)
	if !semver.IsValid(schemaV) || !semver.IsValid(engineV) {
		return VersionCompatCheckSkipped, nil
	}

	switch semver.Compare(semver.Canonical(schemaV), semver.Canonical(engineV)) {
	case -1:
		return VersionCompatEngineNewer, nil
	case 1:
		return VersionCompatEngineOlder, nil
	default:
		return VersionCompatEqual, nil
	}
}

func (s *Store) schemaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT version FROM %s ORDER BY recorded_at DESC LIMIT 1`, s.versionName),
	).Scan(&version)
	return version, err
}

func ensureVPrefix(version string) string {
	if len(version) > 0 && version[0] != 'v' {
		return "v" + version
	}
	return version
}
