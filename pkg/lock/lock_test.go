// SPDX-License-Identifier: Apache-2.0

package lock_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgevodb/pgevodb/pkg/lock"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
	"github.com/pgevodb/pgevodb/pkg/testutils"
)

func TestMain(m *testing.M) {
	testutils.SharedTestMain(m)
}

const testLockKey int64 = 0x1234_5678

func TestAcquireThenRelease(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		l, err := lock.Acquire(ctx, conn, testLockKey)
		require.NoError(t, err)
		require.NotNil(t, l)

		require.NoError(t, l.Release(ctx))
	})
}

func TestSecondAcquireFailsWithLockBusy(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		conn2, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer conn2.Close()

		l1, err := lock.Acquire(ctx, conn, testLockKey)
		require.NoError(t, err)
		defer l1.Release(ctx)

		_, err = lock.Acquire(ctx, conn2, testLockKey)
		require.Error(t, err)
		assert.Equal(t, pgerrors.LockBusy{Key: testLockKey}, err)
		assert.Equal(t, pgerrors.ExitLockBusy, pgerrors.ExitCodeFor(err))
	})
}

func TestReleaseAllowsReacquisition(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		conn2, err := sql.Open("postgres", connStr)
		require.NoError(t, err)
		defer conn2.Close()

		l1, err := lock.Acquire(ctx, conn, testLockKey)
		require.NoError(t, err)
		require.NoError(t, l1.Release(ctx))

		l2, err := lock.Acquire(ctx, conn2, testLockKey)
		require.NoError(t, err)
		require.NoError(t, l2.Release(ctx))
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	testutils.WithConnectionToContainer(t, func(conn *sql.DB, connStr string) {
		ctx := context.Background()

		l, err := lock.Acquire(ctx, conn, testLockKey)
		require.NoError(t, err)

		require.NoError(t, l.Release(ctx))
		require.NoError(t, l.Release(ctx))
	})
}
