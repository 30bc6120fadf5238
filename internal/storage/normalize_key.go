package storage

import (
	"fmt"
	"strings"
	"time"
)

// NormalizeKey converts a natural key value to a canonical string form,
// suitable for in-memory cache keys (e.g. "Lisboa" or "2024-03-01").
//
// Drivers return different Go types for the same column; this helper keeps
// lookup caches consistent across backends.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case int64:
		return fmt.Sprintf("%d", t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int:
		return fmt.Sprintf("%d", t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey joins normalized parts with a unit separator so that
// ("a b", "c") and ("a", "b c") never collide.
func CompositeKey(parts []any) string {
	if len(parts) == 1 {
		return NormalizeKey(parts[0])
	}
	s := make([]string, len(parts))
	for i, p := range parts {
		s[i] = NormalizeKey(p)
	}
	return strings.Join(s, "\x1f")
}
