// SPDX-License-Identifier: Apache-2.0

// Package logging provides the engine's structured logger, grounded on the
// teacher's pkg/migrations/logger.go. The engine never writes to the log
// stream it hands callers directly (spec §5 "no process-wide mutable
// state"); it only logs its own operational events through this interface.
package logging

import (
	"github.com/pterm/pterm"
)

// Logger is the structured logging contract the engine depends on for its
// own operational events (plan decisions, lock acquisition, step timing).
// It is distinct from a step's log stream (spec §4.5 "Log stream"), which
// is an opaque io.Writer supplied per execution and owned by the Executor.
type Logger interface {
	LockAcquired(key int64)
	LockBusy(key int64)
	LockReleased(key int64)

	PlanComputed(direction string, stepCount int)

	StepStarting(id, direction string)
	StepApplied(id string, executionMs int64)
	StepFailed(id string, err error)
	StepVerified(id string, ok bool)

	RecoveryApplied(op, id string)

	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

type ptermLogger struct {
	logger pterm.Logger
}

// New returns a Logger backed by pterm's default structured logger.
func New() Logger {
	return &ptermLogger{logger: pterm.DefaultLogger}
}

func (l *ptermLogger) LockAcquired(key int64) {
	l.logger.Info("acquired advisory lock", l.logger.Args("lock_key", key))
}

func (l *ptermLogger) LockBusy(key int64) {
	l.logger.Warn("advisory lock busy", l.logger.Args("lock_key", key))
}

func (l *ptermLogger) LockReleased(key int64) {
	l.logger.Info("released advisory lock", l.logger.Args("lock_key", key))
}

func (l *ptermLogger) PlanComputed(direction string, stepCount int) {
	l.logger.Info("plan computed", l.logger.Args("direction", direction, "step_count", stepCount))
}

func (l *ptermLogger) StepStarting(id, direction string) {
	l.logger.Info("step starting", l.logger.Args("id", id, "direction", direction))
}

func (l *ptermLogger) StepApplied(id string, executionMs int64) {
	l.logger.Info("step applied", l.logger.Args("id", id, "execution_ms", executionMs))
}

func (l *ptermLogger) StepFailed(id string, err error) {
	l.logger.Error("step failed", l.logger.Args("id", id, "error", err.Error()))
}

func (l *ptermLogger) StepVerified(id string, ok bool) {
	l.logger.Info("step verified", l.logger.Args("id", id, "verify_ok", ok))
}

func (l *ptermLogger) RecoveryApplied(op, id string) {
	l.logger.Info("recovery operation applied", l.logger.Args("operation", op, "id", id))
}

func (l *ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

func (l *ptermLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.logger.Args(args...))
}

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything, used by tests
// that exercise the engine without caring about log output.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *noopLogger) LockAcquired(key int64)                  {}
func (l *noopLogger) LockBusy(key int64)                      {}
func (l *noopLogger) LockReleased(key int64)                  {}
func (l *noopLogger) PlanComputed(direction string, n int)    {}
func (l *noopLogger) StepStarting(id, direction string)       {}
func (l *noopLogger) StepApplied(id string, executionMs int64) {}
func (l *noopLogger) StepFailed(id string, err error)         {}
func (l *noopLogger) StepVerified(id string, ok bool)         {}
func (l *noopLogger) RecoveryApplied(op, id string)           {}
func (l *noopLogger) Info(msg string, args ...any)            {}
func (l *noopLogger) Error(msg string, args ...any)           {}
