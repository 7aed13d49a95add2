// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/state"
	"github.com/pgevodb/pgevodb/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

func strPtr(s string) *string { return &s }

func TestNewCreatesTableIdempotently(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()

		s1, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s1.Close()

		// A second Store against the same schema must not fail or duplicate
		// the table (spec §4.2 "creation is idempotent").
		s2, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s2.Close()

		records, err := s2.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

func TestUpsertStatusThenGet(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		err = s.UpsertStatus(ctx, "2025-01-01T00-00-00__example", migration.StatusRunning, state.UpsertFields{
			Checksum: strPtr("abc123"),
			LogRef:   strPtr("log://abc123"),
		})
		require.NoError(t, err)

		rec, ok, err := s.Get(ctx, "2025-01-01T00-00-00__example")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, migration.StatusRunning, rec.Status)
		assert.Equal(t, "abc123", rec.Checksum)
		assert.Equal(t, "log://abc123", rec.LogRef)
		assert.Nil(t, rec.AppliedAt)

		now := time.Now().UTC().Truncate(time.Second)
		err = s.UpsertStatus(ctx, "2025-01-01T00-00-00__example", migration.StatusApplied, state.UpsertFields{
			AppliedAt:   &now,
			AppliedBy:   strPtr("tester"),
			ExecutionMs: int64Ptr(42),
		})
		require.NoError(t, err)

		rec, ok, err = s.Get(ctx, "2025-01-01T00-00-00__example")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, migration.StatusApplied, rec.Status)
		// checksum and log_ref are preserved because this upsert omitted them.
		assert.Equal(t, "abc123", rec.Checksum)
		assert.Equal(t, "log://abc123", rec.LogRef)
		assert.Equal(t, "tester", rec.AppliedBy)
		assert.Equal(t, int64(42), rec.ExecutionMs)
		require.NotNil(t, rec.AppliedAt)
		assert.WithinDuration(t, now, *rec.AppliedAt, time.Second)
	})
}

func TestGetMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		_, ok, err := s.Get(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestClearExecutionFieldsPreservesChecksumAndLogRef(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		now := time.Now()
		require.NoError(t, s.UpsertStatus(ctx, "id-1", migration.StatusApplied, state.UpsertFields{
			Checksum:    strPtr("chk"),
			LogRef:      strPtr("ref"),
			AppliedAt:   &now,
			AppliedBy:   strPtr("tester"),
			ExecutionMs: int64Ptr(10),
		}))
		require.NoError(t, s.SetVerify(ctx, "id-1", true))

		require.NoError(t, s.ClearExecutionFields(ctx, "id-1"))

		rec, ok, err := s.Get(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "chk", rec.Checksum)
		assert.Equal(t, "ref", rec.LogRef)
		assert.Nil(t, rec.AppliedAt)
		assert.Equal(t, "", rec.AppliedBy)
		assert.Equal(t, int64(0), rec.ExecutionMs)
		assert.True(t, rec.VerifyOK.IsNull())
	})
}

func TestSetVerify(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.UpsertStatus(ctx, "id-1", migration.StatusApplied, state.UpsertFields{}))
		require.NoError(t, s.SetVerify(ctx, "id-1", false))

		rec, ok, err := s.Get(ctx, "id-1")
		require.NoError(t, err)
		require.True(t, ok)

		val, err := rec.VerifyOK.Get()
		require.NoError(t, err)
		assert.False(t, val)
	})
}

func TestDelete(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.UpsertStatus(ctx, "id-1", migration.StatusFailed, state.UpsertFields{}))
		require.NoError(t, s.Delete(ctx, "id-1"))

		_, ok, err := s.Get(ctx, "id-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestListOrdersByID(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(_ *sql.DB, connStr string) {
		ctx := context.Background()
		s, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.UpsertStatus(ctx, "2025-02-01T00-00-00__b", migration.StatusApplied, state.UpsertFields{}))
		require.NoError(t, s.UpsertStatus(ctx, "2025-01-01T00-00-00__a", migration.StatusApplied, state.UpsertFields{}))

		records, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "2025-01-01T00-00-00__a", records[0].ID)
		assert.Equal(t, "2025-02-01T00-00-00__b", records[1].ID)
	})
}

func int64Ptr(v int64) *int64 { return &v }
