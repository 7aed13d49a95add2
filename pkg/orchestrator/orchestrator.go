// SPDX-License-Identifier: Apache-2.0

// Package orchestrator implements the Orchestrator (spec §4.7): the only
// component that touches every other one. It owns the database session for
// its lifetime, sequences lock acquisition, planning, production
// confirmation, and step execution, and guarantees lock release and
// session close on every exit path.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pterm/pterm"

	"github.com/pgevodb/pgevodb/pkg/bundleloader"
	"github.com/pgevodb/pgevodb/pkg/config"
	"github.com/pgevodb/pgevodb/pkg/executor"
	"github.com/pgevodb/pgevodb/pkg/hooks"
	"github.com/pgevodb/pgevodb/pkg/lock"
	"github.com/pgevodb/pgevodb/pkg/logging"
	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
	"github.com/pgevodb/pgevodb/pkg/planner"
	"github.com/pgevodb/pgevodb/pkg/recovery"
	"github.com/pgevodb/pgevodb/pkg/state"
)

// EngineVersion is the version compared against the recorded schema
// version by CheckVersion; overridable for builds that stamp it via
// -ldflags, "development" otherwise (spec §5, teacher's pkg/state/version.go
// treats "development" as always compatible).
var EngineVersion = "development"

// Orchestrator is the top-level driver. One instance owns one database
// session (spec §5 "Resource ownership") for its entire lifetime; Close
// must be called on every exit path.
type Orchestrator struct {
	scriptDB *sql.DB
	store    *state.Store
	bundles  []migration.Bundle
	exec     *executor.Executor
	logger   logging.Logger
	lockKey  int64
	global   config.GlobalConfig
	profile  config.Profile
	runID    string
}

// Options overrides the behaviour New would otherwise derive purely from
// config.
type Options struct {
	HookRunner hooks.Runner // defaults to hooks.ShellRunner{}
	Logger     logging.Logger
	HookEnv    []string
}

// New loads bundles from global.MigrationsDir, opens the script session
// (search_path profile.Schema) and a disjoint State Store session
// (profile.StateSchema) against profile.DSN, and returns a ready
// Orchestrator. Callers must defer Close.
func New(ctx context.Context, profile config.Profile, global config.GlobalConfig, opts Options) (*Orchestrator, error) {
	bundles, err := bundleloader.Load(global.MigrationsDir)
	if err != nil {
		return nil, err
	}

	dsn, err := pq.ParseURL(profile.DSN)
	if err != nil {
		dsn = profile.DSN
	}
	if profile.Schema != "" {
		dsn += " search_path=" + profile.Schema
	}
	scriptDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening script session: %w", err)
	}
	if err := scriptDB.PingContext(ctx); err != nil {
		scriptDB.Close()
		return nil, fmt.Errorf("connecting script session: %w", err)
	}

	store, err := state.New(ctx, profile.DSN, profile.StateSchema)
	if err != nil {
		scriptDB.Close()
		return nil, err
	}

	hookRunner := opts.HookRunner
	if hookRunner == nil {
		hookRunner = hooks.ShellRunner{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New()
	}

	o := &Orchestrator{
		scriptDB: scriptDB,
		store:    store,
		bundles:  bundles,
		exec:     executor.New(scriptDB, store, hookRunner, logger),
		logger:   logger,
		lockKey:  global.LockKey,
		global:   global,
		profile:  profile,
		runID:    uuid.NewString(),
	}
	return o, nil
}

// Close releases the State Store and script database sessions. Safe to
// call once; the underlying *sql.DB types tolerate a second Close.
func (o *Orchestrator) Close() error {
	storeErr := o.store.Close()
	dbErr := o.scriptDB.Close()
	if storeErr != nil {
		return storeErr
	}
	return dbErr
}

// RunID is the identifier generated for this Orchestrator's lifetime,
// suitable for tagging log_ref values and pg_stat_activity.application_name
// (spec §5 SUPPLEMENTED FEATURES "Cancellation plumbing" companion: every
// run is individually traceable).
func (o *Orchestrator) RunID() string {
	return o.runID
}

// UpRequest bundles Up's planning options with the production-confirmation
// override threaded from the CLI.
type UpRequest struct {
	Plan            planner.UpOptions
	ConfirmProdFlag bool // true if --confirm-prod was passed
	AppliedBy       string
	NewLogRef       func(id string) string
}

// Up sequences lock → plan → confirm → execute (spec §4.7). It halts and
// surfaces the first step failure; the lock is released on every exit path.
func (o *Orchestrator) Up(ctx context.Context, req UpRequest) (migration.Plan, error) {
	l, err := lock.Acquire(ctx, o.scriptDB, o.lockKey)
	if err != nil {
		if _, busy := err.(pgerrors.LockBusy); busy {
			o.logger.LockBusy(o.lockKey)
		}
		return migration.Plan{}, err
	}
	o.logger.LockAcquired(o.lockKey)
	defer func() {
		if relErr := l.Release(ctx); relErr == nil {
			o.logger.LockReleased(o.lockKey)
		}
	}()

	records, err := o.recordsByID(ctx)
	if err != nil {
		return migration.Plan{}, err
	}

	plan, err := planner.Up(o.bundles, records, req.Plan)
	if err != nil {
		return migration.Plan{}, err
	}
	o.logger.PlanComputed("up", len(plan.Steps))

	if len(plan.Steps) == 0 {
		return plan, nil
	}

	if err := o.confirmProduction(req.ConfirmProdFlag); err != nil {
		return migration.Plan{}, err
	}

	byID := o.bundlesByID()
	for _, step := range plan.Steps {
		b := byID[step.ID]
		logRef := ""
		if req.NewLogRef != nil {
			logRef = req.NewLogRef(step.ID)
		}
		if _, err := o.exec.Execute(ctx, executor.StepInput{
			Bundle:           b,
			Direction:        migration.DirectionUp,
			AppliedBy:        req.AppliedBy,
			LogRef:           logRef,
			GlobalTimeoutSec: o.global.TimeoutSec,
		}, nil); err != nil {
			return plan, err
		}
	}

	return plan, nil
}

// DownRequest bundles Down's planning options with the production
// confirmation override threaded from the CLI.
type DownRequest struct {
	Plan            planner.DownOptions
	ConfirmProdFlag bool
	NewLogRef       func(id string) string
}

// Down sequences lock → plan → confirm → execute in reverse (spec §4.7).
func (o *Orchestrator) Down(ctx context.Context, req DownRequest) (migration.Plan, error) {
	l, err := lock.Acquire(ctx, o.scriptDB, o.lockKey)
	if err != nil {
		if _, busy := err.(pgerrors.LockBusy); busy {
			o.logger.LockBusy(o.lockKey)
		}
		return migration.Plan{}, err
	}
	o.logger.LockAcquired(o.lockKey)
	defer func() {
		if relErr := l.Release(ctx); relErr == nil {
			o.logger.LockReleased(o.lockKey)
		}
	}()

	records, err := o.recordsByID(ctx)
	if err != nil {
		return migration.Plan{}, err
	}

	plan, err := planner.Down(o.bundles, records, req.Plan)
	if err != nil {
		return migration.Plan{}, err
	}
	o.logger.PlanComputed("down", len(plan.Steps))

	if len(plan.Steps) == 0 {
		return plan, nil
	}

	if err := o.confirmProduction(req.ConfirmProdFlag); err != nil {
		return migration.Plan{}, err
	}

	byID := o.bundlesByID()
	for _, step := range plan.Steps {
		b := byID[step.ID]
		logRef := ""
		if req.NewLogRef != nil {
			logRef = req.NewLogRef(step.ID)
		}
		if _, err := o.exec.Execute(ctx, executor.StepInput{
			Bundle:           b,
			Direction:        migration.DirectionDown,
			LogRef:           logRef,
			GlobalTimeoutSec: o.global.TimeoutSec,
		}, nil); err != nil {
			return plan, err
		}
	}

	return plan, nil
}

// PlanUp computes the forward plan against the current state without
// taking the advisory lock or executing anything (a preview; the state it
// reflects can go stale the instant another process runs). Up recomputes
// its own plan under the lock before executing.
func (o *Orchestrator) PlanUp(ctx context.Context, opts planner.UpOptions) (migration.Plan, error) {
	records, err := o.recordsByID(ctx)
	if err != nil {
		return migration.Plan{}, err
	}
	return planner.Up(o.bundles, records, opts)
}

// PlanDown computes the reverse plan against the current state, with the
// same preview caveat as PlanUp.
func (o *Orchestrator) PlanDown(ctx context.Context, opts planner.DownOptions) (migration.Plan, error) {
	records, err := o.recordsByID(ctx)
	if err != nil {
		return migration.Plan{}, err
	}
	return planner.Down(o.bundles, records, opts)
}

// Verify re-runs id's verify.sql against current schema state (spec §6 CLI
// surface "verify"), independent of Up's folded-in verify step. It requires
// an applied record and takes the advisory lock, since it writes verify_ok.
func (o *Orchestrator) Verify(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := o.withLock(ctx, func() error {
		rec, found, err := o.store.Get(ctx, id)
		if err != nil {
			return err
		}
		if !found || rec.Status != migration.StatusApplied {
			return pgerrors.ConfigError{Reason: "verify requires an applied record for " + id}
		}
		b, hasBundle := o.bundlesByID()[id]
		if !hasBundle {
			return pgerrors.NotFoundError{ID: id}
		}
		var verifyErr error
		ok, verifyErr = o.exec.VerifyOnly(ctx, b, b.EffectiveTimeoutSec(0, o.global.TimeoutSec))
		return verifyErr
	})
	return ok, err
}

// Repair delegates to recovery.Repair under the advisory lock, since it
// mutates schema_migrations and must not race a concurrent run's plan.
func (o *Orchestrator) Repair(ctx context.Context, id string) error {
	return o.withLock(ctx, func() error {
		b, ok := o.bundlesByID()[id]
		if !ok {
			return pgerrors.NotFoundError{ID: id}
		}
		if err := recovery.Repair(ctx, o.store, b); err != nil {
			return err
		}
		o.logger.RecoveryApplied("repair", id)
		return nil
	})
}

// Retry delegates to recovery.Retry under the advisory lock.
func (o *Orchestrator) Retry(ctx context.Context, id string, opts recovery.RetryOptions) error {
	return o.withLock(ctx, func() error {
		opts.GlobalTimeoutSec = o.global.TimeoutSec
		if err := recovery.Retry(ctx, o.store, o.exec, o.bundles, id, opts); err != nil {
			return err
		}
		o.logger.RecoveryApplied("retry", id)
		return nil
	})
}

// ResetFailed delegates to recovery.ResetFailed under the advisory lock.
func (o *Orchestrator) ResetFailed(ctx context.Context, id string, opts recovery.ResetFailedOptions) error {
	return o.withLock(ctx, func() error {
		if err := recovery.ResetFailed(ctx, o.store, id, opts); err != nil {
			return err
		}
		o.logger.RecoveryApplied("reset-failed", id)
		return nil
	})
}

// Status reconciles on-disk bundles with schema_migrations rows (spec §5
// SUPPLEMENTED FEATURES "status read path"); it takes no lock since it only
// reads.
func (o *Orchestrator) Status(ctx context.Context) ([]migration.StatusEntry, error) {
	records, err := o.recordsByID(ctx)
	if err != nil {
		return nil, err
	}
	bundles := o.bundlesByID()

	seen := make(map[string]struct{}, len(bundles)+len(records))
	var ids []string
	for _, b := range o.bundles {
		seen[b.ID] = struct{}{}
		ids = append(ids, b.ID)
	}
	for id := range records {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}

	entries := make([]migration.StatusEntry, 0, len(ids))
	for _, id := range ids {
		b, hasBundle := bundles[id]
		rec, hasRecord := records[id]

		entry := migration.StatusEntry{ID: id}
		switch {
		case hasRecord:
			entry.Status = rec.Status
			entry.Checksum = rec.Checksum
			entry.AppliedAt = rec.AppliedAt
			entry.MissingLocal = !hasBundle
			if hasBundle && rec.Status == migration.StatusApplied && rec.Checksum != b.Fingerprint {
				entry.Drift = true
			}
		default:
			entry.Status = migration.StatusPending
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// CheckVersion compares EngineVersion against the schema's recorded
// version and stamps the current run's version if the schema has no
// history yet (spec §5 SUPPLEMENTED FEATURES "Engine/schema version
// compatibility").
func (o *Orchestrator) CheckVersion(ctx context.Context) (state.VersionCompatibility, error) {
	compat, err := o.store.VersionCompatibility(ctx, EngineVersion)
	if err != nil {
		return 0, err
	}
	if compat == state.VersionCompatNotInitialized {
		if err := o.store.RecordVersion(ctx, EngineVersion); err != nil {
			return 0, err
		}
	}
	return compat, nil
}

func (o *Orchestrator) withLock(ctx context.Context, fn func() error) error {
	l, err := lock.Acquire(ctx, o.scriptDB, o.lockKey)
	if err != nil {
		if _, busy := err.(pgerrors.LockBusy); busy {
			o.logger.LockBusy(o.lockKey)
		}
		return err
	}
	o.logger.LockAcquired(o.lockKey)
	defer func() {
		if relErr := l.Release(ctx); relErr == nil {
			o.logger.LockReleased(o.lockKey)
		}
	}()
	return fn()
}

// confirmProduction enforces spec §4.7's production gate: when the active
// profile declares confirm_prod, execution refuses to proceed unless
// --confirm-prod was supplied or an interactive confirmation is given.
func (o *Orchestrator) confirmProduction(confirmProdFlag bool) error {
	if !o.profile.ConfirmProd || confirmProdFlag {
		return nil
	}
	if !o.global.Interactive {
		return pgerrors.ConfigError{Reason: fmt.Sprintf(
			"profile %q requires confirm_prod: pass --confirm-prod or run interactively", o.profile.AppEnv)}
	}
	ok, err := pterm.DefaultInteractiveConfirm.
		WithDefaultText(fmt.Sprintf("profile %q is marked confirm_prod; proceed?", o.profile.AppEnv)).
		Show()
	if err != nil {
		return fmt.Errorf("reading confirmation: %w", err)
	}
	if !ok {
		return pgerrors.ConfigError{Reason: "production confirmation declined"}
	}
	return nil
}

func (o *Orchestrator) recordsByID(ctx context.Context) (map[string]migration.Record, error) {
	list, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]migration.Record, len(list))
	for _, r := range list {
		out[r.ID] = r
	}
	return out, nil
}

func (o *Orchestrator) bundlesByID() map[string]migration.Bundle {
	out := make(map[string]migration.Bundle, len(o.bundles))
	for _, b := range o.bundles {
		out[b.ID] = b
	}
	return out
}
