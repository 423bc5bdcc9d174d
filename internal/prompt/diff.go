package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/hirohiro424/sparkling/internal/edit"
)

const diffContext = 3

// Diff returns the unified diff from version a to version b with v<a>/v<b>
// file headers. Identical texts give an empty string.
func (s *Service) Diff(ctx context.Context, promptID uuid.UUID, a, b int) (string, error) {
	va, err := s.store.GetVersion(ctx, promptID, a)
	if err != nil {
		return "", err
	}
	vb, err := s.store.GetVersion(ctx, promptID, b)
	if err != nil {
		return "", err
	}
	return UnifiedDiff(va.Content, vb.Content, fmt.Sprintf("v%d", a), fmt.Sprintf("v%d", b))
}

// UnifiedDiff diffs two texts line by line. Output lines carry no
// terminators beyond the joining newline.
func UnifiedDiff(from, to, fromName, toName string) (string, error) {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        terminated(from),
		B:        terminated(to),
		FromFile: fromName,
		ToFile:   toName,
		Context:  diffContext,
	})
	if err != nil {
		return "", fmt.Errorf("diff: %w", err)
	}
	return strings.TrimSuffix(out, "\n"), nil
}

func terminated(text string) []string {
	lines := edit.SplitLines(text)
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}
