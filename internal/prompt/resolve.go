package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/models"
)

// AmbiguousError reports a title shared by several prompts.
type AmbiguousError struct {
	Title      string
	Candidates []uuid.UUID
}

func (e *AmbiguousError) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, id := range e.Candidates {
		ids[i] = id.String()
	}
	return fmt.Sprintf("%d prompts are titled %q; pick one by id:\n- %s", len(e.Candidates), e.Title, strings.Join(ids, "\n- "))
}

func (e *AmbiguousError) Unwrap() error { return models.ErrAmbiguous }

// Resolve turns an id or a title into a prompt id. An id wins when both are
// given and must name an existing prompt.
func (s *Service) Resolve(ctx context.Context, id, title string) (uuid.UUID, error) {
	if id = strings.TrimSpace(id); id != "" {
		pid, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid prompt id %q", models.ErrValidation, id)
		}
		if _, err := s.store.GetPrompt(ctx, pid); err != nil {
			return uuid.Nil, err
		}
		return pid, nil
	}
	if title == "" {
		return uuid.Nil, fmt.Errorf("%w: a prompt title or id is required", models.ErrValidation)
	}

	ids, err := s.store.FindPromptIDsByTitle(ctx, title)
	if err != nil {
		return uuid.Nil, err
	}
	switch len(ids) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: no prompt titled %q", models.ErrNotFound, title)
	case 1:
		return ids[0], nil
	default:
		return uuid.Nil, &AmbiguousError{Title: title, Candidates: ids}
	}
}
