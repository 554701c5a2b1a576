package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status.
func statusTag(s Status) string {
	switch s {
	case StatusCompleted:
		return "[OK]"
	case StatusFailed:
		return "[FAIL]"
	case StatusRunning:
		return "[RUN]"
	case StatusSuspended:
		return "[WAIT]"
	case StatusCancelled:
		return "[CANCEL]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as one box per stage, connected top to bottom.
func RenderASCII(model *Model) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}
	for i, stage := range model.Stages {
		for _, line := range makeBox(stage) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(model.Stages)-1 {
			b.WriteString("       │\n")
			b.WriteString("       ▼\n")
		}
	}
	return b.String()
}

// makeBox draws a stage header and its numbered steps.
func makeBox(stage *StageNode) []string {
	content := []string{withTag(stage.Label, stage.Status)}
	for i, step := range stage.Steps {
		content = append(content, fmt.Sprintf("  %d. %s", i+1, withTag(step.Label, step.Status)))
	}
	if len(stage.Steps) == 0 {
		content = append(content, "  (no steps)")
	}

	maxLen := 0
	for _, line := range content {
		maxLen = max(maxLen, len(line))
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, line := range content {
		lines = append(lines, "│ "+line+strings.Repeat(" ", maxLen-len(line))+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return lines
}

func withTag(label string, s Status) string {
	if tag := statusTag(s); tag != "" {
		return label + " " + tag
	}
	return label
}
