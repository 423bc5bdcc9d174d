package edit

import "strings"

// LineReplacement replaces the line at a 0-based Index.
type LineReplacement struct {
	Index int
	Text  string
}

// ReplaceLines applies 0-based replacements in order. Indices outside the text
// are skipped.
func ReplaceLines(base string, repl []LineReplacement) string {
	if len(repl) == 0 {
		return base
	}
	lines := SplitLines(base)
	for _, r := range repl {
		if r.Index >= 0 && r.Index < len(lines) {
			lines[r.Index] = r.Text
		}
	}
	return strings.Join(lines, "\n")
}

// AppendSection appends items as "- item" bullets under "# header". The header
// is only written when the text does not already contain it.
func AppendSection(text, header string, items []string) string {
	if len(items) == 0 {
		return text
	}
	marker := "# " + header
	if !strings.Contains(text, marker) {
		text += "\n\n" + marker + "\n"
	} else {
		text += "\n"
	}
	bullets := make([]string, len(items))
	for i, it := range items {
		bullets[i] = "- " + it
	}
	return text + strings.Join(bullets, "\n")
}

// Sections groups the free-form additions accepted by the edit endpoint.
type Sections struct {
	Conditions []string
	Formatting []string
	Forbidden  []string
}

func (s Sections) Empty() bool {
	return len(s.Conditions) == 0 && len(s.Formatting) == 0 && len(s.Forbidden) == 0
}

// Apply appends CONDITIONS, FORMATTING and FORBIDDEN sections in that order.
// Forbidden items are written as "Do NOT: item".
func (s Sections) Apply(text string) string {
	text = AppendSection(text, "CONDITIONS", s.Conditions)
	text = AppendSection(text, "FORMATTING", s.Formatting)
	forbidden := make([]string, len(s.Forbidden))
	for i, f := range s.Forbidden {
		forbidden[i] = "Do NOT: " + f
	}
	return AppendSection(text, "FORBIDDEN", forbidden)
}
