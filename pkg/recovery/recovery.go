// SPDX-License-Identifier: Apache-2.0

// Package recovery implements the Recovery Operations (spec §4.6): repair,
// retry, and reset-failed. Each is an idempotent state mutation over the
// State Store with its own safety gates; none require the Executor except
// retry, which re-enters the normal up path after resetting the record.
package recovery

import (
	"context"
	"io"

	"github.com/pgevodb/pgevodb/pkg/executor"
	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
	"github.com/pgevodb/pgevodb/pkg/planner"
	"github.com/pgevodb/pgevodb/pkg/state"
)

// Store is the subset of *state.Store recovery operations depend on.
type Store interface {
	Get(ctx context.Context, id string) (migration.Record, bool, error)
	List(ctx context.Context) ([]migration.Record, error)
	UpsertStatus(ctx context.Context, id string, status migration.Status, fields state.UpsertFields) error
	ClearExecutionFields(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Repair rewrites id's stored checksum to match the bundle's current
// on-disk fingerprint (spec §4.6 "repair --accept-checksum"). The record
// must exist and be `applied`; repair has no SQL side effects and is
// idempotent (P6): calling it again with the same fingerprint is a no-op
// write.
func Repair(ctx context.Context, store Store, bundle migration.Bundle) error {
	rec, ok, err := store.Get(ctx, bundle.ID)
	if err != nil {
		return err
	}
	if !ok {
		return pgerrors.NotFoundError{ID: bundle.ID}
	}
	if rec.Status != migration.StatusApplied {
		return pgerrors.ConfigError{Reason: "repair requires an applied record for " + bundle.ID}
	}

	checksum := bundle.Fingerprint
	return store.UpsertStatus(ctx, bundle.ID, rec.Status, state.UpsertFields{Checksum: &checksum})
}

// RetryOptions configures Retry.
type RetryOptions struct {
	AcceptChecksum bool
	Force          bool
	AppliedBy      string
	CLITimeoutSec  int
	GlobalTimeoutSec int
	// NewLogRef assigns the log_ref used for every step re-executed by this
	// retry; the caller owns log stream lifecycle (spec §5).
	NewLogRef func(id string) string
	Log       io.Writer
}

// Retry resets id and re-executes `up` through and including it (spec §4.6
// "retry"). bundles must be sorted by id ascending.
func Retry(ctx context.Context, store Store, exec *executor.Executor, bundles []migration.Bundle, id string, opts RetryOptions) error {
	var target *migration.Bundle
	for i := range bundles {
		if bundles[i].ID == id {
			target = &bundles[i]
			break
		}
	}
	if target == nil {
		return pgerrors.NotFoundError{ID: id}
	}

	rec, ok, err := store.Get(ctx, id)
	if err != nil {
		return err
	}

	if ok && rec.Status == migration.StatusApplied {
		return nil // no-op, spec §4.6 point 2
	}

	if ok && rec.Status == migration.StatusRunning && !opts.Force {
		return pgerrors.StaleRunning{ID: id}
	}

	if ok && rec.Checksum != "" && rec.Checksum != target.Fingerprint {
		if !opts.AcceptChecksum {
			return pgerrors.DriftError{ID: id, StoredChecksum: rec.Checksum, DiskChecksum: target.Fingerprint}
		}
		// Repair itself only accepts applied records, so the checksum is
		// rewritten directly here, keeping the record's current status.
		checksum := target.Fingerprint
		if err := store.UpsertStatus(ctx, id, rec.Status, state.UpsertFields{Checksum: &checksum}); err != nil {
			return err
		}
	}

	if err := store.UpsertStatus(ctx, id, migration.StatusReverted, state.UpsertFields{}); err != nil {
		return err
	}
	if err := store.ClearExecutionFields(ctx, id); err != nil {
		return err
	}

	records, err := recordsByID(ctx, store)
	if err != nil {
		return err
	}

	plan, err := planner.Up(bundles, records, planner.UpOptions{To: id, AcceptChecksum: true})
	if err != nil {
		return err
	}

	for _, step := range plan.Steps {
		var b migration.Bundle
		for _, candidate := range bundles {
			if candidate.ID == step.ID {
				b = candidate
				break
			}
		}

		logRef := ""
		if opts.NewLogRef != nil {
			logRef = opts.NewLogRef(step.ID)
		}

		if _, err := exec.Execute(ctx, executor.StepInput{
			Bundle:           b,
			Direction:        migration.DirectionUp,
			AppliedBy:        opts.AppliedBy,
			LogRef:           logRef,
			CLITimeoutSec:    opts.CLITimeoutSec,
			GlobalTimeoutSec: opts.GlobalTimeoutSec,
		}, opts.Log); err != nil {
			return err
		}
	}

	return nil
}

// ResetFailedOptions configures ResetFailed.
type ResetFailedOptions struct {
	Delete bool
}

// ResetFailed modifies schema_migrations only, no SQL (spec §4.6
// "reset-failed"). It never transitions a record away from `applied`.
func ResetFailed(ctx context.Context, store Store, id string, opts ResetFailedOptions) error {
	rec, ok, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return pgerrors.NotFoundError{ID: id}
	}
	if rec.Status == migration.StatusApplied {
		return pgerrors.ConfigError{Reason: "reset-failed refuses to touch an applied record for " + id}
	}

	if opts.Delete {
		return store.Delete(ctx, id)
	}

	if err := store.UpsertStatus(ctx, id, migration.StatusReverted, state.UpsertFields{}); err != nil {
		return err
	}
	return store.ClearExecutionFields(ctx, id)
}

func recordsByID(ctx context.Context, store Store) (map[string]migration.Record, error) {
	list, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]migration.Record, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}
