package graph

import (
	"regexp"
	"time"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether s can be used as a label, edge type or property
// name in every supported backend.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// IsScalar reports whether v is a value a node property may hold.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, int64, float64, time.Time, []byte,
		[]string, []int64, []float64, []bool:
		return true
	default:
		return false
	}
}
