// SPDX-License-Identifier: Apache-2.0

package bundleloader

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprint computes the stable digest used to detect drift: SHA-256 over
// the concatenation of the expanded up script, a 0x1F separator byte, and
// the (unexpanded) down script. Whitespace and comments participate in the
// input; there is no normalisation (spec §4.1).
func fingerprint(expandedUp, down string) string {
	h := sha256.New()
	h.Write([]byte(expandedUp))
	h.Write([]byte{0x1F})
	h.Write([]byte(down))
	return hex.EncodeToString(h.Sum(nil))
}
