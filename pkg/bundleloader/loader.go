// SPDX-License-Identifier: Apache-2.0

// Package bundleloader implements the Bundle Loader (spec §4.1): it scans a
// migrations directory one level deep, reads each bundle's up/down/verify
// scripts and optional meta.yaml, expands @include directives, and computes
// the fingerprint used for drift detection.
package bundleloader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/pgevodb/pgevodb/pkg/migration"
	"github.com/pgevodb/pgevodb/pkg/pgerrors"
)

const (
	upFile     = "up.sql"
	downFile   = "down.sql"
	verifyFile = "verify.sql"
	metaFile   = "meta.yaml"
)

// Load scans root one level deep for bundle directories and returns their
// contents sorted by id (lexicographic, matching spec I5's ordering
// requirement). An unreadable required file, malformed meta.yaml, or
// unresolvable @include is reported as a BundleError.
func Load(root string) ([]migration.Bundle, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory %q: %w", root, err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ids = append(ids, e.Name())
	}
	sort.Strings(ids)

	bundles := make([]migration.Bundle, 0, len(ids))
	for _, id := range ids {
		b, err := loadOne(root, id)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}

	return bundles, nil
}

func loadOne(root, id string) (migration.Bundle, error) {
	dir := filepath.Join(root, id)

	upPath := filepath.Join(dir, upFile)
	rawUp, err := os.ReadFile(upPath) // #nosec G304 -- dir is enumerated from a trusted migrations root
	if err != nil {
		return migration.Bundle{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("reading %s: %s", upFile, err)}
	}

	downPath := filepath.Join(dir, downFile)
	rawDown, err := os.ReadFile(downPath) // #nosec G304
	if err != nil {
		return migration.Bundle{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("reading %s: %s", downFile, err)}
	}

	expandedUp, err := expandIncludes(upPath, string(rawUp))
	if err != nil {
		return migration.Bundle{}, pgerrors.BundleError{ID: id, Reason: err.Error()}
	}

	var verify string
	hasVerify := false
	verifyPath := filepath.Join(dir, verifyFile)
	if data, err := os.ReadFile(verifyPath); err == nil { // #nosec G304
		verify = string(data)
		hasVerify = true
	} else if !os.IsNotExist(err) {
		return migration.Bundle{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("reading %s: %s", verifyFile, err)}
	}

	meta, err := loadMetadata(dir, id)
	if err != nil {
		return migration.Bundle{}, err
	}

	return migration.Bundle{
		ID:           id,
		UpScript:     expandedUp,
		DownScript:   string(rawDown),
		VerifyScript: verify,
		HasVerify:    hasVerify,
		Metadata:     meta,
		Fingerprint:  fingerprint(expandedUp, string(rawDown)),
	}, nil
}

func loadMetadata(dir, id string) (migration.Metadata, error) {
	path := filepath.Join(dir, metaFile)
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		if os.IsNotExist(err) {
			return migration.Metadata{}, nil
		}
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("reading %s: %s", metaFile, err)}
	}

	// Validate against the recognised-keys schema before unmarshalling into
	// the typed struct, so an unknown key surfaces as a clear BundleError
	// instead of being silently dropped.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("parsing %s: %s", metaFile, err)}
	}
	// Re-encode through encoding/json so the jsonschema validator sees plain
	// JSON types (map[string]any, []any, float64, ...) rather than the
	// map[string]interface{} with YAML-flavoured scalars sigs.k8s.io/yaml
	// can produce for edge cases.
	normalised, err := jsonRoundTrip(doc)
	if err != nil {
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("normalising %s: %s", metaFile, err)}
	}
	if err := validateMetaDocument(normalised); err != nil {
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("invalid %s: %s", metaFile, err)}
	}

	var meta migration.Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: fmt.Sprintf("decoding %s: %s", metaFile, err)}
	}

	if meta.TimeoutSec < 0 {
		return migration.Metadata{}, pgerrors.BundleError{ID: id, Reason: "timeout_sec must be positive"}
	}

	return meta, nil
}

func jsonRoundTrip(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
