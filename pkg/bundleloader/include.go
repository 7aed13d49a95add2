// SPDX-License-Identifier: Apache-2.0

package bundleloader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const includePrefix = "-- @include "

// expandIncludes performs a single, non-recursive pass over the lines of
// script (the contents of up.sql), replacing any line of the exact form
// `-- @include <relative-path>` with the contents of the referenced file,
// resolved relative to scriptDir. This is a pure text substitution, not a
// templating engine, so that fingerprints stay deterministic (spec P2).
func expandIncludes(scriptPath, script string) (string, error) {
	scriptDir := filepath.Dir(scriptPath)
	lines := strings.Split(script, "\n")

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		rel, ok := parseIncludeLine(line)
		if !ok {
			out = append(out, line)
			continue
		}

		includePath := filepath.Join(scriptDir, rel)

		if sameFile(includePath, scriptPath) {
			return "", fmt.Errorf("@include cycle: %q includes itself", rel)
		}

		data, err := os.ReadFile(includePath) // #nosec G304 -- path is relative to a loaded bundle directory
		if err != nil {
			return "", fmt.Errorf("@include %q: %w", rel, err)
		}

		out = append(out, string(data))
	}

	return strings.Join(out, "\n"), nil
}

// parseIncludeLine reports whether line is an `-- @include <path>` directive,
// returning the referenced relative path.
func parseIncludeLine(line string) (string, bool) {
	if !strings.HasPrefix(line, includePrefix) {
		return "", false
	}
	rel := strings.TrimSpace(strings.TrimPrefix(line, includePrefix))
	if rel == "" {
		return "", false
	}
	return rel, true
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
