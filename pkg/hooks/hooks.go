// SPDX-License-Identifier: Apache-2.0

// Package hooks defines the contract the Executor calls through to run a
// bundle's pre_hooks/post_hooks (spec §1 lists hook subprocess execution as
// an external collaborator; the engine only depends on the Runner
// interface). Runner also ships a concrete os/exec-backed implementation,
// since a complete deployment of this engine needs one.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// Runner executes a sequence of hook command strings in order, stopping at
// the first failure.
type Runner interface {
	Run(ctx context.Context, commands []string, env []string) error
}

// ShellRunner runs each command string through /bin/sh -c, grounded on the
// ordinary os/exec.CommandContext pattern; PGEVODB never interprets the
// command string itself (spec's hook commands are opaque strings).
type ShellRunner struct {
	// Shell defaults to "/bin/sh" if empty.
	Shell string
}

func (r ShellRunner) Run(ctx context.Context, commands []string, env []string) error {
	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	for i, command := range commands {
		cmd := exec.CommandContext(ctx, shell, "-c", command) // #nosec G204 -- hook commands are operator-authored config, not user input
		cmd.Env = env

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("hook %d (%q) failed: %w: %s", i, command, err, stderr.String())
		}
	}
	return nil
}

// NoopRunner runs nothing; used when a bundle declares no hooks, or by
// tests that don't exercise hook execution.
type NoopRunner struct{}

func (NoopRunner) Run(ctx context.Context, commands []string, env []string) error {
	return nil
}
