package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint returns a stable SHA-256 hex digest of the trip columns of
// row. idviagem is left out so that the same trip exported twice under
// different ids still collides.
//
// Values are joined in column order with a unit separator, each prefixed by
// its column name. Surrounding space is ignored. A missing column is encoded
// as a single NUL byte so it differs from an empty value.
func Fingerprint(row *Row) string {
	var b strings.Builder
	b.Grow(len(RequiredColumns) * 24)

	for i, name := range RequiredColumns {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(name)
		b.WriteByte('=')

		s, ok := row.Text(i)
		if !ok {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(strings.TrimSpace(s))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
