package present

import (
	"fmt"
	"strings"
)

// Text renders v as a plain-text panel for terminals.
func Text(v View) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s", v.Title)
	if v.Tier != "" {
		fmt.Fprintf(&b, " [%s]", v.Tier)
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	writeItems(&b, v.Summary, "")

	b.WriteString("\nInstitutional Narrative:\n")
	b.WriteString(indentLines(v.Narrative, "  "))
	b.WriteString("\n")

	if v.HasRiskNote {
		fmt.Fprintf(&b, "\nRisk Note: %s\n", v.RiskNote)
	}

	for _, s := range v.Sections {
		fmt.Fprintf(&b, "\n%s\n%s\n", s.Title, strings.Repeat("-", len([]rune(s.Title))))
		writeItems(&b, s.Items, "")
	}
	return b.String()
}

func writeItems(b *strings.Builder, items []Item, prefix string) {
	width := 0
	for _, it := range items {
		if n := len([]rune(it.Label)); n > width {
			width = n
		}
	}
	for _, it := range items {
		pad := strings.Repeat(" ", width-len([]rune(it.Label)))
		if strings.Contains(it.Value, "\n") {
			fmt.Fprintf(b, "%s%s:%s\n%s\n", prefix, it.Label, pad, indentLines(it.Value, prefix+"    "))
			continue
		}
		fmt.Fprintf(b, "%s%s:%s %s\n", prefix, it.Label, pad, it.Value)
	}
}

func indentLines(s, indent string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = indent + l
	}
	return strings.Join(lines, "\n")
}
