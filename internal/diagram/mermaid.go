package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart: one subgraph per
// stage, steps chained in order, stages chained end to start.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	prevTail := ""
	for _, stage := range model.Stages {
		sid := mermaidSafeID(stage.ID)
		fmt.Fprintf(&b, "    subgraph %s[%q]\n", sid, stage.Label)
		if len(stage.Steps) == 0 {
			fmt.Fprintf(&b, "        %s_empty([%q])\n", sid, "no steps")
		}
		for i, step := range stage.Steps {
			fmt.Fprintf(&b, "        %s[%q]\n", stepID(stage, step), step.Label)
			if i > 0 {
				fmt.Fprintf(&b, "        %s --> %s\n", stepID(stage, stage.Steps[i-1]), stepID(stage, step))
			}
		}
		b.WriteString("    end\n")

		if prevTail != "" {
			fmt.Fprintf(&b, "    %s --> %s\n", prevTail, sid)
		}
		prevTail = sid
	}

	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef failed fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef cancelled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, stage := range model.Stages {
		for _, step := range stage.Steps {
			if cls := mermaidStatusClass(step.Status); cls != "" {
				fmt.Fprintf(&b, "    class %s %s\n", stepID(stage, step), cls)
			}
		}
	}
	return b.String()
}

func stepID(stage *StageNode, step *StepNode) string {
	return mermaidSafeID(stage.ID + "__" + step.ID)
}

// mermaidSafeID replaces characters Mermaid does not accept in ids.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_", "/", "_")
	return r.Replace(id)
}

// mermaidStatusClass maps a status to a class name; pending nodes stay
// unstyled.
func mermaidStatusClass(s Status) string {
	switch s {
	case StatusCompleted, StatusFailed, StatusRunning, StatusSuspended, StatusCancelled:
		return string(s)
	default:
		return ""
	}
}
