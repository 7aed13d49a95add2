// SPDX-License-Identifier: Apache-2.0

// Package executor implements the Executor (spec §4.5): the state machine
// that runs a single plan step end to end — pre-hooks, the step's own
// transaction, State Store bookkeeping, post-hooks, and verification.
// Grounded on the teacher's pkg/roll.Roll.Start/Complete, which drives an
// equivalent open-session / run-operations / record-state sequence, one
// migration at a time.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/pgevodb/pgevodb/pkg/hooks"
	"github.com/pgevodb/pgevodb/pkg/logging"
	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
	"github.com/pgevodb/pgevodb/pkg/state"
)

// Executor runs plan steps sequentially against a single database session,
// distinct from the State Store's own session (spec §4.2 "disjoint from
// the user script's transaction").
type Executor struct {
	scriptDB *sql.DB
	store    *state.Store
	hooks    hooks.Runner
	logger   logging.Logger
}

// New builds an Executor. scriptDB is the session migration scripts run
// against; store is the State Store bookkeeping connection (a distinct
// session by construction, see state.New).
func New(scriptDB *sql.DB, store *state.Store, hookRunner hooks.Runner, logger logging.Logger) *Executor {
	if hookRunner == nil {
		hookRunner = hooks.NoopRunner{}
	}
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Executor{scriptDB: scriptDB, store: store, hooks: hookRunner, logger: logger}
}

// StepInput carries everything Execute needs for one plan step beyond what
// the bundle itself declares.
type StepInput struct {
	Bundle           migration.Bundle
	Direction        migration.Direction
	AppliedBy        string
	LogRef           string
	CLITimeoutSec    int
	GlobalTimeoutSec int
	// HookEnv is passed through to pre/post hook subprocesses.
	HookEnv []string
}

// StepResult summarises a completed step.
type StepResult struct {
	ID          string
	Direction   migration.Direction
	ExecutionMs int64
	// VerifyOK is nil if the bundle has no verify.sql.
	VerifyOK *bool
}

// Execute runs one plan step to completion, writing lifecycle and timing
// markers to log (spec §4.5 "Log stream": "forwards ... timing markers").
// log may be io.Discard; the step's log_ref is a value the caller assigns
// meaning to, the Executor treats it as opaque.
func (e *Executor) Execute(ctx context.Context, in StepInput, log io.Writer) (StepResult, error) {
	if log == nil {
		log = io.Discard
	}
	b := in.Bundle
	fmt.Fprintf(log, "[%s] starting %s %s\n", time.Now().UTC().Format(time.RFC3339), in.Direction, b.ID)
	e.logger.StepStarting(b.ID, string(in.Direction))

	timeoutSec := b.EffectiveTimeoutSec(in.CLITimeoutSec, in.GlobalTimeoutSec)

	if len(b.Metadata.PreHooks) > 0 {
		if err := e.hooks.Run(ctx, b.Metadata.PreHooks, in.HookEnv); err != nil {
			// Spec §4.5: pre-hook failure fails without any record change.
			fmt.Fprintf(log, "[%s] pre-hooks failed: %s\n", time.Now().UTC().Format(time.RFC3339), err)
			return StepResult{}, pgerrors.ExecutionError{ID: b.ID, Err: fmt.Errorf("pre-hooks: %w", err)}
		}
	}

	checksum := b.Fingerprint
	if err := e.store.UpsertStatus(ctx, b.ID, migration.StatusRunning, state.UpsertFields{
		Checksum: &checksum,
		LogRef:   &in.LogRef,
	}); err != nil {
		return StepResult{}, fmt.Errorf("recording running status for %q: %w", b.ID, err)
	}

	script := b.UpScript
	if in.Direction == migration.DirectionDown {
		script = b.DownScript
	}

	start := time.Now()
	runErr := e.runScript(ctx, script, timeoutSec)
	elapsedMs := time.Since(start).Milliseconds()

	if runErr != nil {
		fmt.Fprintf(log, "[%s] execution failed after %dms: %s\n", time.Now().UTC().Format(time.RFC3339), elapsedMs, runErr)
		e.logger.StepFailed(b.ID, runErr)

		// Record the failure even if ctx was cancelled mid-script, so the
		// row does not stay in status running.
		execMs := elapsedMs
		if err := e.store.UpsertStatus(context.WithoutCancel(ctx), b.ID, migration.StatusFailed, state.UpsertFields{
			ExecutionMs: &execMs,
		}); err != nil {
			e.logger.Error("failed to record failed status", "id", b.ID, "error", err.Error())
		}
		return StepResult{}, pgerrors.ExecutionError{ID: b.ID, Err: runErr}
	}

	fmt.Fprintf(log, "[%s] execution completed in %dms\n", time.Now().UTC().Format(time.RFC3339), elapsedMs)

	if in.Direction == migration.DirectionUp {
		now := time.Now().UTC()
		appliedBy := in.AppliedBy
		execMs := elapsedMs
		if err := e.store.UpsertStatus(ctx, b.ID, migration.StatusApplied, state.UpsertFields{
			AppliedAt:   &now,
			AppliedBy:   &appliedBy,
			ExecutionMs: &execMs,
		}); err != nil {
			return StepResult{}, fmt.Errorf("recording applied status for %q: %w", b.ID, err)
		}
	} else {
		if err := e.store.UpsertStatus(ctx, b.ID, migration.StatusReverted, state.UpsertFields{}); err != nil {
			return StepResult{}, fmt.Errorf("recording reverted status for %q: %w", b.ID, err)
		}
		if err := e.store.ClearExecutionFields(ctx, b.ID); err != nil {
			return StepResult{}, fmt.Errorf("clearing execution fields for %q: %w", b.ID, err)
		}
	}
	e.logger.StepApplied(b.ID, elapsedMs)

	if len(b.Metadata.PostHooks) > 0 {
		if err := e.hooks.Run(ctx, b.Metadata.PostHooks, in.HookEnv); err != nil {
			// Spec §4.5: post-hook errors are logged, do not revert state.
			fmt.Fprintf(log, "[%s] post-hooks failed: %s\n", time.Now().UTC().Format(time.RFC3339), err)
			e.logger.Error("post-hooks failed", "id", b.ID, "error", err.Error())
		}
	}

	result := StepResult{ID: b.ID, Direction: in.Direction, ExecutionMs: elapsedMs}

	if b.HasVerify {
		verifyErr := e.runScript(ctx, b.VerifyScript, timeoutSec)
		ok := verifyErr == nil
		result.VerifyOK = &ok
		e.logger.StepVerified(b.ID, ok)

		if err := e.store.SetVerify(ctx, b.ID, ok); err != nil {
			return result, fmt.Errorf("recording verify result for %q: %w", b.ID, err)
		}
		if !ok {
			fmt.Fprintf(log, "[%s] verify failed: %s\n", time.Now().UTC().Format(time.RFC3339), verifyErr)
			return result, pgerrors.VerifyFailed{ID: b.ID, Err: verifyErr}
		}
	}

	return result, nil
}

// VerifyOnly re-runs a bundle's verify.sql against its current schema state
// without touching status, applied_at, or any other execution field (spec
// §6 CLI surface "verify", distinct from the verify step folded into
// Execute's up path). It is a no-op returning (true, nil) when the bundle
// has no verify.sql.
func (e *Executor) VerifyOnly(ctx context.Context, b migration.Bundle, timeoutSec int) (bool, error) {
	if !b.HasVerify {
		return true, nil
	}
	verifyErr := e.runScript(ctx, b.VerifyScript, timeoutSec)
	ok := verifyErr == nil
	e.logger.StepVerified(b.ID, ok)
	if err := e.store.SetVerify(ctx, b.ID, ok); err != nil {
		return ok, fmt.Errorf("recording verify result for %q: %w", b.ID, err)
	}
	if !ok {
		return false, pgerrors.VerifyFailed{ID: b.ID, Err: verifyErr}
	}
	return true, nil
}

// runScript executes sql inside a single transaction with the effective
// statement_timeout applied via SET LOCAL (spec §4.5 "Timeout").
// An empty script (a bundle's down_script may legitimately be empty) is a
// no-op that still opens and commits a transaction, so callers observe
// consistent timing.
func (e *Executor) runScript(ctx context.Context, script string, timeoutSec int) error {
	tx, err := e.scriptDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if timeoutSec > 0 {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeoutSec*1000)); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
