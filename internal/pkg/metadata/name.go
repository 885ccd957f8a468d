// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metadata

import (
	"slices"
	"unicode/utf16"
)

// MaxNameLen is the largest name, in UTF-16 code units including the
// terminating NUL, that is ever allocated for a metadata query. Longer names
// are unresolved.
const MaxNameLen = 1024

// nameQuery is one metadata call of the two-phase name protocol. A nil buf
// asks for the required length.
type nameQuery func(buf []uint16) (int, error)

// queryName sizes a buffer with a first call of q, fills it with a second
// one, and returns the decoded name. Any failure, an empty name or a name
// longer than MaxNameLen returns "".
func queryName(q nameQuery) string {
	n, err := q(nil)
	if err != nil || n <= 0 || n > MaxNameLen {
		return ""
	}
	buf := make([]uint16, n)

	n, err = q(buf)
	if err != nil || n <= 0 || n > len(buf) {
		return ""
	}
	return decodeName(buf[:n])
}

// decodeName decodes a NUL terminated UTF-16 name. Everything from the first
// NUL on is dropped.
func decodeName(buf []uint16) string {
	if i := slices.Index(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if len(buf) == 0 {
		return ""
	}
	return string(utf16.Decode(buf))
}
