// SPDX-License-Identifier: Apache-2.0

package recovery_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgevodb/pgevodb/pkg/executor"
	"github.com/pgevodb/pgevodb/pkg/hooks"
	"github.com/pgevodb/pgevodb/pkg/logging"
	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
	"github.com/pgevodb/pgevodb/pkg/recovery"
	"github.com/pgevodb/pgevodb/pkg/state"
	"github.com/pgevodb/pgevodb/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func TestRepairRewritesChecksum(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.UpsertStatus(ctx, "id-1", migration.StatusApplied, state.UpsertFields{Checksum: ptr("old")}))

		b := migration.Bundle{ID: "id-1", Fingerprint: "new"}
		require.NoError(t, recovery.Repair(ctx, store, b))

		rec, ok, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "new", rec.Checksum)
		assert.Equal(t, migration.StatusApplied, rec.Status)
	})
}

func TestRepairRequiresAppliedRecord(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.UpsertStatus(ctx, "id-1", migration.StatusFailed, state.UpsertFields{}))

		err = recovery.Repair(ctx, store, migration.Bundle{ID: "id-1", Fingerprint: "new"})
		require.Error(t, err)
	})
}

func TestRepairUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		err = recovery.Repair(ctx, store, migration.Bundle{ID: "missing", Fingerprint: "x"})
		require.Error(t, err)
		assert.Equal(t, pgerrors.NotFoundError{ID: "missing"}, err)
	})
}

func TestResetFailedClearsExecutionFields(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.UpsertStatus(ctx, "id-1", migration.StatusFailed, state.UpsertFields{
			Checksum: ptr("chk"), ExecutionMs: ptr64(7),
		}))

		require.NoError(t, recovery.ResetFailed(ctx, store, "id-1", recovery.ResetFailedOptions{}))

		rec, ok, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, migration.StatusReverted, rec.Status)
		assert.Equal(t, "chk", rec.Checksum)
		assert.Equal(t, int64(0), rec.ExecutionMs)
	})
}

func TestResetFailedWithDeleteRemovesRecord(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.UpsertStatus(ctx, "id-1", migration.StatusFailed, state.UpsertFields{}))
		require.NoError(t, recovery.ResetFailed(ctx, store, "id-1", recovery.ResetFailedOptions{Delete: true}))

		_, ok, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestResetFailedNeverTouchesApplied(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.UpsertStatus(ctx, "id-1", migration.StatusApplied, state.UpsertFields{}))
		err = recovery.ResetFailed(ctx, store, "id-1", recovery.ResetFailedOptions{})
		require.Error(t, err)

		rec, ok, err := store.Get(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, migration.StatusApplied, rec.Status)
	})
}

func TestRetryReexecutesAfterFailure(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		exec := executor.New(conn, store, hooks.NoopRunner{}, logging.NewNoopLogger())

		b := migration.Bundle{
			ID:          "2025-01-01T00-00-00__retryme",
			UpScript:    "CREATE TABLE retryme (id serial primary key)",
			Fingerprint: "fp-retryme",
		}

		// First attempt fails because the bundle was wrong; simulate by
		// recording a failed run directly.
		require.NoError(t, store.UpsertStatus(ctx, b.ID, migration.StatusFailed, state.UpsertFields{
			Checksum: ptr("fp-retryme"),
		}))

		err = recovery.Retry(ctx, store, exec, []migration.Bundle{b}, b.ID, recovery.RetryOptions{
			AppliedBy: "tester",
		})
		require.NoError(t, err)

		rec, ok, err := store.Get(ctx, b.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, migration.StatusApplied, rec.Status)
	})
}

func TestRetryOnApplyIsNoOp(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		exec := executor.New(conn, store, hooks.NoopRunner{}, logging.NewNoopLogger())

		b := migration.Bundle{ID: "id-1", Fingerprint: "fp-1"}
		require.NoError(t, store.UpsertStatus(ctx, b.ID, migration.StatusApplied, state.UpsertFields{Checksum: ptr("fp-1")}))

		err = recovery.Retry(ctx, store, exec, []migration.Bundle{b}, b.ID, recovery.RetryOptions{})
		require.NoError(t, err)
	})
}

func TestRetryUnknownBundleIsNotFound(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		exec := executor.New(conn, store, hooks.NoopRunner{}, logging.NewNoopLogger())
		err = recovery.Retry(ctx, store, exec, nil, "missing", recovery.RetryOptions{})
		require.Error(t, err)
		assert.Equal(t, pgerrors.NotFoundError{ID: "missing"}, err)
	})
}

func ptr(s string) *string { return &s }
func ptr64(v int64) *int64 { return &v }
