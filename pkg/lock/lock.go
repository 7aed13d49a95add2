// SPDX-License-Identifier: Apache-2.0

// Package lock implements the Lock Manager (spec §4.3): a session-scoped
// PostgreSQL advisory lock that serialises whole Orchestrator runs across
// processes. Grounded on the teacher's pkg/state.Init, which takes an
// advisory lock (via pg_advisory_xact_lock) around its own table
// initialisation; this package generalises that pattern to a session-scoped
// lock taken with pg_try_advisory_lock and held explicitly across an entire
// run rather than a single transaction.
package lock

import (
	"context"
	"database/sql"

	"github.com/pgevodb/pgevodb/pkg/pgerrors"
)

// Lock is a held advisory lock. The zero value is not usable; obtain one via
// Acquire.
//
// pg_try_advisory_lock/pg_advisory_unlock are scoped to the backend session
// that took them, not to the database as a whole, so the lock pins a single
// *sql.Conn out of db's pool for its entire lifetime rather than issuing
// queries through db directly — otherwise database/sql could hand the
// unlock call to a different pooled connection than the one that acquired
// it, and the lock would never release.
type Lock struct {
	conn *sql.Conn
	key  int64
}

// Acquire attempts to take the session-scoped advisory lock identified by
// key, pinning a dedicated connection from db's pool. It returns
// pgerrors.LockBusy if another session already holds it (spec §4.3: "If the
// call returns false, it fails with LockBusy"). The caller must call
// Release on every exit path to return the pinned connection to the pool.
func Acquire(ctx context.Context, db *sql.DB, key int64) (*Lock, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, err
	}
	if !acquired {
		conn.Close()
		return nil, pgerrors.LockBusy{Key: key}
	}
	return &Lock{conn: conn, key: key}, nil
}

// Release explicitly unlocks the advisory lock (spec §4.3: "Release is
// explicit ... on all exit paths") and returns the pinned connection to the
// pool. It is safe to call more than once; only the first call has effect.
// The server also releases the lock automatically on session termination
// (i.e. when the underlying database connection is closed, for example when
// db itself is closed; returning the *sql.Conn to the pool does not end the
// session), so Release is a best-effort courtesy for the common case, not
// the only safety net.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	var released bool
	return conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", l.key).Scan(&released)
}
