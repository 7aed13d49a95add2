// SPDX-License-Identifier: Apache-2.0

// Package testutils provides the shared Postgres test-container harness
// used by this module's integration tests, grounded on the teacher's
// pkg/testutils/util.go.
package testutils

import "math/rand"

func randomDBName() string {
	const length = 15
	const charset = "abcdefghijklmnopqrstuvwxyz"

	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))] // #nosec G404
	}

	return "testdb_" + string(b)
}
