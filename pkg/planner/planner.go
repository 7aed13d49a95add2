// SPDX-License-Identifier: Apache-2.0

// Package planner implements the Planner (spec §4.4): it reconciles
// on-disk bundles with the State Store's records to produce an ordered
// plan, diagnosing drift, unmet dependencies, tag blocks, stale running
// records, and irreversible-down attempts before a single statement runs.
package planner

import (
	"sort"

	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
)

// UpOptions configures an Up plan.
type UpOptions struct {
	// To limits the plan to ids <= To (lexicographic); empty means no limit.
	To string
	// AllowTags, when non-empty, blocks any candidate whose tags are
	// disjoint from this set (spec §4.4 "Tag filtering"), unless
	// IgnoreTagBlock is true.
	AllowTags []string
	// IgnoreTagBlock bypasses the tag filter for this invocation.
	IgnoreTagBlock bool
	// AcceptChecksum bypasses DriftError for ids whose drift has already
	// been accepted by a prior repair. Up itself never silently accepts
	// drift; this flag exists for retry's internal replan, which operates
	// after repair has already rewritten the checksum.
	AcceptChecksum bool
}

// DownOptions configures a Down plan.
type DownOptions struct {
	// To is the id to stop above (exclusive); every applied record with
	// id > To is targeted for reversal, in descending order.
	To string
}

// Up computes the forward plan (spec §4.4 "For up [--to T]"). bundles must
// already be sorted by id ascending (bundleloader.Load guarantees this).
func Up(bundles []migration.Bundle, records map[string]migration.Record, opts UpOptions) (migration.Plan, error) {
	byID := make(map[string]migration.Bundle, len(bundles))
	for _, b := range bundles {
		byID[b.ID] = b
	}

	plannedOrAppliedBefore := make(map[string]bool, len(bundles))
	var steps []migration.Step

	for _, b := range bundles {
		if opts.To != "" && b.ID > opts.To {
			break
		}

		rec, exists := records[b.ID]

		if exists {
			switch rec.Status {
			case migration.StatusApplied:
				if rec.Checksum != b.Fingerprint && !opts.AcceptChecksum {
					return migration.Plan{}, pgerrors.DriftError{
						ID:             b.ID,
						StoredChecksum: rec.Checksum,
						DiskChecksum:   b.Fingerprint,
					}
				}
				plannedOrAppliedBefore[b.ID] = true
				continue
			case migration.StatusRunning:
				return migration.Plan{}, pgerrors.StaleRunning{ID: b.ID}
			case migration.StatusFailed:
				return migration.Plan{}, pgerrors.AlreadyFailed{ID: b.ID}
			case migration.StatusPending, migration.StatusReverted:
				// falls through to planning below
			}
		}

		if !opts.IgnoreTagBlock && !b.Metadata.TagsIntersect(opts.AllowTags) {
			return migration.Plan{}, pgerrors.TagBlocked{ID: b.ID, Tags: b.Metadata.Tags}
		}

		for _, dep := range b.Metadata.Requires {
			if plannedOrAppliedBefore[dep] {
				continue
			}
			depRec, depExists := records[dep]
			if depExists && depRec.Status == migration.StatusApplied {
				continue
			}
			return migration.Plan{}, pgerrors.DependencyError{ID: b.ID, Requires: dep}
		}

		steps = append(steps, migration.Step{ID: b.ID, Direction: migration.DirectionUp})
		plannedOrAppliedBefore[b.ID] = true
	}

	return migration.Plan{Steps: steps}, nil
}

// Down computes the reverse plan (spec §4.4 "For down --to T"). Every
// applied record with id > opts.To is targeted for reversal, in descending
// order; a record whose bundle is marked non-reversible hard-blocks the
// entire plan (no flag bypasses, per spec).
func Down(bundles []migration.Bundle, records map[string]migration.Record, opts DownOptions) (migration.Plan, error) {
	byID := make(map[string]migration.Bundle, len(bundles))
	for _, b := range bundles {
		byID[b.ID] = b
	}

	var candidates []string
	for id, rec := range records {
		if rec.Status != migration.StatusApplied {
			continue
		}
		if id <= opts.To {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(candidates)))

	for _, id := range candidates {
		b, ok := byID[id]
		if !ok {
			// Missing on-disk bundle for an applied record is drift (spec
			// §9 Open Question resolution): forward operations treat it as
			// DriftError, and down is a forward-adjacent operation that
			// needs the bundle's down_script to run, so it is blocked the
			// same way.
			rec := records[id]
			return migration.Plan{}, pgerrors.DriftError{
				ID:             id,
				StoredChecksum: rec.Checksum,
				DiskChecksum:   "",
			}
		}
		if !b.Metadata.IsReversible() {
			return migration.Plan{}, pgerrors.IrreversibleError{ID: id}
		}
	}

	steps := make([]migration.Step, 0, len(candidates))
	for _, id := range candidates {
		steps = append(steps, migration.Step{ID: id, Direction: migration.DirectionDown})
	}
	return migration.Plan{Steps: steps}, nil
}
