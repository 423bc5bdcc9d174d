// Package edit implements the line-addressed patch model used to derive a new
// prompt version from the previous one.
//
// Every Op addresses a 1-based line of the ORIGINAL text. Ops are applied from
// the highest line number down so that an insert or delete never shifts the
// lines that the remaining ops still have to touch.
package edit

import (
	"fmt"
	"sort"
	"strings"
)

type OpKind string

const (
	OpSet    OpKind = "set"
	OpInsert OpKind = "insert"
	OpDelete OpKind = "delete"
)

// Op is one line edit. Line is 1-based.
type Op struct {
	Op   OpKind `json:"op"`
	Line int    `json:"line"`
	Text string `json:"text,omitempty"`
}

// Set replaces the line at position line.
func Set(line int, text string) Op { return Op{Op: OpSet, Line: line, Text: text} }

// Insert puts text before the line at position line; len+1 appends.
func Insert(line int, text string) Op { return Op{Op: OpInsert, Line: line, Text: text} }

// Delete removes the line at position line.
func Delete(line int) Op { return Op{Op: OpDelete, Line: line} }

func (o Op) String() string {
	if o.Op == OpDelete {
		return fmt.Sprintf("delete %d", o.Line)
	}
	return fmt.Sprintf("%s %d:%s", o.Op, o.Line, o.Text)
}

// Apply returns base with ops applied. Apply never fails: out-of-range lines
// and unknown op kinds are skipped.
//
// Ops sharing a line number keep their input order (stable sort), so
// [Set(2,"BB"), Insert(2,"X")] first replaces line 2, then inserts X above it.
func Apply(base string, ops []Op) string {
	if len(ops) == 0 {
		return base
	}

	lines := SplitLines(base)

	ordered := make([]Op, len(ops))
	copy(ordered, ops)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Line > ordered[j].Line
	})

	for _, op := range ordered {
		idx := op.Line - 1
		if idx < 0 || idx > len(lines) {
			continue
		}
		switch op.Op {
		case OpSet:
			if idx < len(lines) {
				lines[idx] = op.Text
			}
		case OpInsert:
			lines = append(lines, "")
			copy(lines[idx+1:], lines[idx:])
			lines[idx] = op.Text
		case OpDelete:
			if idx < len(lines) {
				lines = append(lines[:idx], lines[idx+1:]...)
			}
		}
	}

	return strings.Join(lines, "\n")
}

// SplitLines splits text on \n, \r\n and \r. A trailing terminator does not
// produce an empty final line and the empty string has no lines.
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	var lines []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '\n':
			lines = append(lines, text[start:i])
			start = i + 1
		case '\r':
			lines = append(lines, text[start:i])
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(text) {
		lines = append(lines, text[start:])
	}
	return lines
}

// WithLineNumbers renders text with a right-aligned 1-based gutter.
func WithLineNumbers(text string) string {
	lines := SplitLines(text)
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%3d│ %s", i+1, line)
	}
	return b.String()
}
