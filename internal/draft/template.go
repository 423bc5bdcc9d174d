package draft

import (
	"fmt"
	"strings"

	"github.com/hirohiro424/sparkling/internal/models"
)

const goalSlot = "{{goal}}"

// fill puts goal into every {{goal}} slot of a draft template. The goal is
// inserted verbatim: braces inside it are never treated as slots. Any other
// {{...}} placeholder in the template is an ErrValidation.
func fill(template, goal string) (string, error) {
	parts := strings.Split(template, goalSlot)
	for _, part := range parts {
		if i := strings.Index(part, "{{"); i >= 0 {
			name := part[i:]
			if j := strings.Index(name, "}}"); j >= 0 {
				name = name[:j+2]
			}
			return "", fmt.Errorf("%w: draft template has unknown placeholder %s", models.ErrValidation, name)
		}
	}
	return strings.Join(parts, strings.TrimSpace(goal)), nil
}
