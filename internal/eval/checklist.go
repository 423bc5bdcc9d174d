package eval

import (
	"math"
	"strings"
)

// DefaultChecklist labels the six built-in checks, in evaluation order.
var DefaultChecklist = []string{
	"ROLE section is present",
	"INSTRUCTIONS section is present",
	"OUTPUT section is present",
	"Vague instructions are made concrete",
	"Forbidden actions are stated",
	"Output format is specified",
}

type check struct {
	pass func(lower string) bool
	note string
}

var defaultChecks = []check{
	{func(p string) bool { return strings.Contains(p, "# role") }, "Add a ROLE section"},
	{func(p string) bool { return strings.Contains(p, "# instructions") }, "Add an INSTRUCTIONS section"},
	{func(p string) bool { return strings.Contains(p, "# output") }, "Add an OUTPUT section"},
	{func(p string) bool { return !containsAny(p, "be creative", "do your best", "help me") }, "Replace vague phrases with concrete requirements"},
	{func(p string) bool { return containsAny(p, "forbidden", "do not:", "금지") }, "Add a FORBIDDEN section or Do NOT: lines"},
	{func(p string) bool { return containsAny(p, "json", "markdown", "format", "형식", "# formatting") }, "Specify the output format"},
}

// ChecklistResult lists passed and failed labels in checklist order.
type ChecklistResult struct {
	Passed []string `json:"passed"`
	Failed []string `json:"failed"`
	Score  float64  `json:"score"`
	Notes  []string `json:"notes"`
}

// Checklist scores text with case-insensitive substring heuristics. A nil
// checklist runs DefaultChecklist; an empty non-nil one scores 100. Custom
// labels rename the built-in checks by position, and labels past the sixth
// pass when the label itself appears in the text.
func Checklist(text string, checklist []string) ChecklistResult {
	if checklist == nil {
		checklist = DefaultChecklist
	}
	res := ChecklistResult{Passed: []string{}, Failed: []string{}, Notes: []string{}}
	if len(checklist) == 0 {
		res.Score = 100.0
		return res
	}

	lower := strings.ToLower(text)
	for i, label := range checklist {
		var ok bool
		var note string
		if i < len(defaultChecks) {
			ok = defaultChecks[i].pass(lower)
			note = defaultChecks[i].note
		} else {
			ok = strings.Contains(lower, strings.ToLower(strings.TrimSpace(label)))
			note = "Mention " + label
		}
		if ok {
			res.Passed = append(res.Passed, label)
		} else {
			res.Failed = append(res.Failed, label)
			res.Notes = append(res.Notes, note)
		}
	}
	res.Score = round1(100 * float64(len(res.Passed)) / float64(len(checklist)))
	return res
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
