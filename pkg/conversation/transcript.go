package conversation

import (
	"fmt"
	"strings"
)

// Transcript renders turns as Markdown, one section per turn.
func Transcript(title string, turns []Turn) string {
	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "# %s\n\n", title)
	}
	for _, t := range turns {
		who := "Student"
		if t.Role == RoleAssistant {
			who = "Tutor"
		}
		fmt.Fprintf(&b, "**%s** (%s)\n\n", who, t.Time.Format("15:04:05"))
		if t.Text != "" {
			b.WriteString(t.Text)
			b.WriteString("\n")
		}
		for _, m := range t.Media {
			fmt.Fprintf(&b, "_[%s, %d bytes]_\n", m.MIMEType, m.Bytes)
		}
		b.WriteString("\n")
	}
	return b.String()
}
