// SPDX-License-Identifier: Apache-2.0

package state_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgevodb/pgevodb/pkg/state"
	"github.com/pgevodb/pgevodb/pkg/testutils"
)

func TestVersionCompatibilityNotInitialized(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		compat, err := store.VersionCompatibility(ctx, "1.2.0")
		require.NoError(t, err)
		assert.Equal(t, state.VersionCompatNotInitialized, compat)
	})
}

func TestVersionCompatibilityEqual(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.RecordVersion(ctx, "1.2.0"))

		compat, err := store.VersionCompatibility(ctx, "1.2.0")
		require.NoError(t, err)
		assert.Equal(t, state.VersionCompatEqual, compat)
	})
}

func TestVersionCompatibilityEngineOlder(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.RecordVersion(ctx, "2.0.0"))

		compat, err := store.VersionCompatibility(ctx, "1.2.0")
		require.NoError(t, err)
		assert.Equal(t, state.VersionCompatEngineOlder, compat)
	})
}

func TestVersionCompatibilityDevelopmentSkipsCheck(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()
		store, err := state.New(ctx, connStr, "pgevodb")
		require.NoError(t, err)
		defer store.Close()

		compat, err := store.VersionCompatibility(ctx, "development")
		require.NoError(t, err)
		assert.Equal(t, state.VersionCompatCheckSkipped, compat)
	})
}
