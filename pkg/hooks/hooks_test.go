// SPDX-License-Identifier: Apache-2.0

package hooks_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pgevodb/pgevodb/pkg/hooks"
)

func TestShellRunnerRunsInOrder(t *testing.T) {
	r := hooks.ShellRunner{}
	out := filepath.Join(t.TempDir(), "order.txt")
	err := r.Run(context.Background(), []string{"echo first >> " + out, "echo second >> " + out}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}

func TestShellRunnerStopsAtFirstFailure(t *testing.T) {
	r := hooks.ShellRunner{}
	err := r.Run(context.Background(), []string{"exit 1", "exit 0"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hook 0")
}

func TestNoopRunner(t *testing.T) {
	r := hooks.NoopRunner{}
	require.NoError(t, r.Run(context.Background(), []string{"exit 1"}, nil))
}
