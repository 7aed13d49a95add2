// SPDX-License-Identifier: Apache-2.0

// Package migration defines the domain types shared across the engine:
// on-disk migration bundles, their parsed metadata, and the persisted
// record of a bundle's application state.
package migration

import (
	"time"

	"github.com/oapi-codegen/nullable"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
	StatusReverted Status = "reverted"
)

// Direction is the direction a plan step runs in.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Metadata holds the recognised fields of a bundle's meta.yaml.
type Metadata struct {
	TimeoutSec int      `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`
	Tags       []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Reversible *bool    `json:"reversible,omitempty" yaml:"reversible,omitempty"`
	Requires   []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	OnlineSafe bool     `json:"online_safe,omitempty" yaml:"online_safe,omitempty"`
	PreHooks   []string `json:"pre_hooks,omitempty" yaml:"pre_hooks,omitempty"`
	PostHooks  []string `json:"post_hooks,omitempty" yaml:"post_hooks,omitempty"`
}

// IsReversible returns whether the bundle allows `down`, defaulting to true
// when the metadata is silent on the matter.
func (m Metadata) IsReversible() bool {
	if m.Reversible == nil {
		return true
	}
	return *m.Reversible
}

// HasTag reports whether the bundle carries tag t.
func (m Metadata) HasTag(t string) bool {
	for _, got := range m.Tags {
		if got == t {
			return true
		}
	}
	return false
}

// TagsIntersect reports whether the bundle's tag set intersects allowed.
// A bundle with no tags never matches a non-empty allow-list.
func (m Metadata) TagsIntersect(allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if m.HasTag(a) {
			return true
		}
	}
	return false
}

// Bundle is a fully loaded migration bundle: the resolved (post-@include)
// up script, the raw down script, optional verify script, and metadata.
type Bundle struct {
	ID           string
	UpScript     string // fully expanded, post-@include
	DownScript   string
	VerifyScript string // empty if absent
	HasVerify    bool
	Metadata     Metadata
	Fingerprint  string // hex-encoded sha256
}

// EffectiveTimeoutSec resolves the statement timeout for this bundle given
// a CLI override and the global default, in that order of precedence.
func (b Bundle) EffectiveTimeoutSec(cliTimeoutSec, globalTimeoutSec int) int {
	if b.Metadata.TimeoutSec > 0 {
		return b.Metadata.TimeoutSec
	}
	if cliTimeoutSec > 0 {
		return cliTimeoutSec
	}
	return globalTimeoutSec
}

// Record is a row of schema_migrations.
type Record struct {
	ID           string
	Checksum     string
	Status       Status
	AppliedAt    *time.Time // nil if not applied
	AppliedBy    string
	ExecutionMs  int64
	VerifyOK     nullable.Nullable[bool]
	LogRef       string
	MissingLocal bool // not set by the State Store; Status reports a missing bundle via StatusEntry.MissingLocal
}

// Step is one entry of a Plan: a bundle id to run in a given direction.
type Step struct {
	ID        string
	Direction Direction
}

// Plan is the ordered sequence of steps the Orchestrator intends to execute.
type Plan struct {
	Steps []Step
}

// StatusEntry is one row of the `status` CLI verb's output: a bundle
// reconciled against its State Store record, if any.
type StatusEntry struct {
	ID           string
	Status       Status // StatusPending if no record exists yet
	Checksum     string
	AppliedAt    *time.Time
	Drift        bool // applied record's checksum no longer matches the on-disk bundle
	MissingLocal bool // a record exists with no corresponding on-disk bundle
}
