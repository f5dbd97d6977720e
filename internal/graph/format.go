package graph

import (
	"encoding/json"
	"fmt"
	"strings"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTrail renders an extracted trail as a human-readable narrative,
// root cause first, one line per step with the edge that led into it.
func FormatTrail(t *Trail) string {
	if len(t.Steps) == 0 {
		return fmt.Sprintf("Session: %s | node %d | empty trail.\n", t.SessionID, t.TargetID)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Session: %s | causal trail for node %d (%d steps)\n",
		t.SessionID, t.TargetID, len(t.Steps)))
	b.WriteString(separator + "\n")

	for _, s := range t.Steps {
		b.WriteString(fmt.Sprintf("%-4d %-11s conf %.2f  %s\n",
			s.NodeID, s.Kind, s.Confidence, truncate(s.ContentDigest, 30)))
		if s.IncomingEdge != nil {
			b.WriteString(fmt.Sprintf("       └─ caused by %d (strength %.2f, confidence %.2f)\n",
				s.IncomingEdge.From, s.IncomingEdge.CausalStrength, s.IncomingEdge.Confidence))
		}
	}

	b.WriteString(separator + "\n")
	return b.String()
}

// FormatTrailJSON renders a trail as indented JSON for the report layer.
func FormatTrailJSON(t *Trail) (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trail: %w", err)
	}
	return string(data), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
