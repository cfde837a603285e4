package childproto

import (
	"encoding/json"
	"strings"
)

// ContentText tolerates the two shapes the downstream may send: a bare
// JSON string, or an array of fragments joined with newlines.
func ContentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var fragments []Fragment
	if err := json.Unmarshal(raw, &fragments); err == nil {
		parts := make([]string, 0, len(fragments))
		for _, f := range fragments {
			parts = append(parts, f.Text)
		}
		return strings.Join(parts, "\n")
	}

	return string(raw)
}

// IsContinuationLost recognizes a missing/invalid continuation error by
// the substring heuristic called out in spec.md §9: implementers may
// prefer an explicit error code, but here we only have prose.
func IsContinuationLost(errMessage string) bool {
	lower := strings.ToLower(errMessage)
	return strings.Contains(lower, "thread") || strings.Contains(lower, "not found")
}
