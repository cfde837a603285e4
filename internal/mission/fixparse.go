package mission

import "encoding/json"

// FixAssignment is one {agentId, task} entry the lead is asked to
// produce during the fixing phase.
type FixAssignment struct {
	AgentID string `json:"agentId"`
	Task    string `json:"task"`
}

// parseFixAssignments extracts the first balanced "[...]" substring from
// arbitrary lead prose and parses it permissively, per spec.md §9: never
// raise to the caller, degrade to "no fix" on any failure.
func parseFixAssignments(text string) []FixAssignment {
	start := -1
	depth := 0
	end := -1
	for i, r := range text {
		switch r {
		case '[':
			if start == -1 {
				start = i
			}
			depth++
		case ']':
			if start != -1 {
				depth--
				if depth == 0 {
					end = i
					break
				}
			}
		}
		if end != -1 {
			break
		}
	}
	if start == -1 || end == -1 || end < start {
		return nil
	}

	var assignments []FixAssignment
	if err := json.Unmarshal([]byte(text[start:end+1]), &assignments); err != nil {
		return nil
	}
	return assignments
}
