package prompt

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/draft"
	"github.com/hirohiro424/sparkling/internal/edit"
	"github.com/hirohiro424/sparkling/internal/models"
)

// EditRequest derives the next version from the latest one. Raw, then
// Changes, replace the whole text; otherwise Ops, then ReplaceLines, then
// the section additions are applied to the latest content.
type EditRequest struct {
	Raw          string                 `json:"raw_prompt,omitempty"`
	Changes      []string               `json:"changes,omitempty"`
	Ops          []edit.Op              `json:"ops,omitempty"`
	ReplaceLines []edit.LineReplacement `json:"-"`
	Sections     edit.Sections          `json:"-"`
	Note         string                 `json:"note,omitempty"`
}

type editMeta struct {
	Edits        []edit.Op              `json:"edits,omitempty"`
	ReplaceLines []edit.LineReplacement `json:"replace_lines,omitempty"`
	Conditions   []string               `json:"add_conditions,omitempty"`
	Formatting   []string               `json:"add_formatting,omitempty"`
	Forbidden    []string               `json:"add_forbidden,omitempty"`
	Raw          bool                   `json:"raw,omitempty"`
	BaseVersion  int                    `json:"base_version,omitempty"`
	Note         string                 `json:"note,omitempty"`
}

// Apply returns base with the request applied and the version kind it
// produces.
func (r EditRequest) Apply(base string) (string, string) {
	switch {
	case r.Raw != "":
		return r.Raw, models.KindRaw
	case len(r.Changes) > 0:
		return strings.Join(r.Changes, "\n"), models.KindRaw
	}
	text := edit.Apply(base, r.Ops)
	text = edit.ReplaceLines(text, r.ReplaceLines)
	text = r.Sections.Apply(text)
	return text, models.KindEdit
}

func (r EditRequest) meta(base int) editMeta {
	m := editMeta{
		Edits:        r.Ops,
		ReplaceLines: r.ReplaceLines,
		Conditions:   r.Sections.Conditions,
		Formatting:   r.Sections.Formatting,
		Forbidden:    r.Sections.Forbidden,
		Raw:          r.Raw != "" || len(r.Changes) > 0,
		BaseVersion:  base,
		Note:         r.Note,
	}
	if m.Raw {
		m.Edits, m.ReplaceLines = nil, nil
		m.Conditions, m.Formatting, m.Forbidden = nil, nil, nil
	}
	return m
}

// Edit appends a version derived from the latest one. A prompt with no
// versions yet starts from the skeleton of its goal. The base is read from
// the store under the prompt lock, never from the cache.
func (s *Service) Edit(ctx context.Context, promptID uuid.UUID, req EditRequest) (*models.Version, error) {
	unlock, err := s.lock(ctx, promptID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var base string
	baseVersion := 0
	latest, err := s.store.LatestVersion(ctx, promptID)
	switch {
	case err == nil:
		base, baseVersion = latest.Content, latest.Version
	case errors.Is(err, models.ErrNotFound):
		p, perr := s.store.GetPrompt(ctx, promptID)
		if perr != nil {
			return nil, perr
		}
		if p.Goal != "" {
			base = draft.Skeleton(p.Goal)
		}
	default:
		return nil, err
	}

	text, kind := req.Apply(base)
	return s.appendLocked(ctx, promptID, text, kind, req.meta(baseVersion))
}
