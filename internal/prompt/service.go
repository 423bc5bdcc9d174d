// Package prompt is the version service: it creates prompts, derives new
// versions through the edit engine and reads history back, serializing
// appends per prompt.
package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/cache"
	"github.com/hirohiro424/sparkling/internal/draft"
	"github.com/hirohiro424/sparkling/internal/eval"
	"github.com/hirohiro424/sparkling/internal/metrics"
	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/store"
)

// VersionCache holds the latest version of each prompt. Misses are reported
// as cache.ErrMiss.
type VersionCache interface {
	Latest(ctx context.Context, promptID uuid.UUID) (*models.Version, error)
	PutLatest(ctx context.Context, v *models.Version) error
	Invalidate(ctx context.Context, promptID uuid.UUID) error
}

type Service struct {
	store    store.Store
	drafter  draft.Drafter
	reviewer *eval.Reviewer
	locker   Locker
	cache    VersionCache
	metrics  *metrics.Collector
}

type Option func(*Service)

func WithDrafter(d draft.Drafter) Option { return func(s *Service) { s.drafter = d } }

func WithReviewer(r *eval.Reviewer) Option { return func(s *Service) { s.reviewer = r } }

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithCache(c VersionCache) Option { return func(s *Service) { s.cache = c } }

func WithMetrics(m *metrics.Collector) Option { return func(s *Service) { s.metrics = m } }

// NewService drafts with the offline skeleton and locks in-process unless
// options say otherwise.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		drafter: draft.SkeletonDrafter{},
		locker:  NewLocalLocker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() store.Store { return s.store }

const maxDerivedTitle = 60

// CreatePrompt stores a prompt without versions. A blank title is derived
// from the first line of the goal.
func (s *Service) CreatePrompt(ctx context.Context, title, goal string) (*models.Prompt, error) {
	title = strings.TrimSpace(title)
	goal = strings.TrimSpace(goal)
	if title == "" {
		title = deriveTitle(goal)
	}
	if title == "" {
		return nil, fmt.Errorf("%w: title or goal is required", models.ErrValidation)
	}
	p := &models.Prompt{Title: title, Goal: goal}
	if err := s.store.CreatePrompt(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func deriveTitle(goal string) string {
	line, _, _ := strings.Cut(goal, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxDerivedTitle {
		return line
	}
	return strings.TrimSpace(string([]rune(line)[:maxDerivedTitle]))
}

// Define creates a prompt and drafts version 1 from its goal.
func (s *Service) Define(ctx context.Context, title, goal string) (*models.Prompt, *models.Version, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, nil, fmt.Errorf("%w: goal is required", models.ErrValidation)
	}
	text, err := s.drafter.Draft(ctx, goal)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.CreatePrompt(ctx, title, goal)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.AppendVersion(ctx, p.ID, text, models.KindDefine, map[string]any{
		"goal":    p.Goal,
		"drafter": s.drafter.Name(),
	})
	if err != nil {
		return nil, nil, err
	}
	return p, v, nil
}

// AppendVersion stores content as the next version of the prompt. meta is
// marshalled to JSON when it is not nil.
func (s *Service) AppendVersion(ctx context.Context, promptID uuid.UUID, content, kind string, meta any) (*models.Version, error) {
	unlock, err := s.lock(ctx, promptID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.appendLocked(ctx, promptID, content, kind, meta)
}

func (s *Service) lock(ctx context.Context, promptID uuid.UUID) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "prompt:"+promptID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: lock prompt %s: %w", models.ErrStore, promptID, err)
	}
	return unlock, nil
}

// appendLocked must run under the prompt lock. The new version is written
// through to the cache so readers never see an older latest.
func (s *Service) appendLocked(ctx context.Context, promptID uuid.UUID, content, kind string, meta any) (*models.Version, error) {
	v := &models.Version{PromptID: promptID, Kind: kind, Content: content}
	if meta != nil {
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("%w: encode version meta: %v", models.ErrValidation, err)
		}
		v.Meta = raw
	}

	if err := s.store.AppendVersion(ctx, v); err != nil {
		return nil, err
	}
	s.putLatest(ctx, v)
	s.metrics.VersionAppended(kind)
	slog.Debug("version appended", "prompt_id", promptID, "version", v.Version, "kind", kind)
	return v, nil
}

// Latest returns the newest version, from the cache when one is configured.
// Misses are filled under the prompt lock, so a fill can never race an
// append and put back an older version.
func (s *Service) Latest(ctx context.Context, promptID uuid.UUID) (*models.Version, error) {
	if s.cache == nil {
		return s.store.LatestVersion(ctx, promptID)
	}
	v, err := s.cache.Latest(ctx, promptID)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		slog.Warn("version cache read failed", "prompt_id", promptID, "error", err)
	}

	unlock, err := s.lock(ctx, promptID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	v, err = s.store.LatestVersion(ctx, promptID)
	if err != nil {
		return nil, err
	}
	s.putLatest(ctx, v)
	return v, nil
}

// putLatest must run under the prompt lock.
func (s *Service) putLatest(ctx context.Context, v *models.Version) {
	if s.cache == nil {
		return
	}
	if err := s.cache.PutLatest(ctx, v); err != nil {
		slog.Warn("version cache write failed", "prompt_id", v.PromptID, "error", err)
		s.invalidate(ctx, v.PromptID)
	}
}

func (s *Service) Get(ctx context.Context, promptID uuid.UUID, version int) (*models.Version, error) {
	return s.store.GetVersion(ctx, promptID, version)
}

// At returns the given version, or the latest one when version is 0.
func (s *Service) At(ctx context.Context, promptID uuid.UUID, version int) (*models.Version, error) {
	if version == 0 {
		return s.Latest(ctx, promptID)
	}
	return s.Get(ctx, promptID, version)
}

func (s *Service) All(ctx context.Context, promptID uuid.UUID) ([]models.Version, error) {
	if _, err := s.store.GetPrompt(ctx, promptID); err != nil {
		return nil, err
	}
	return s.store.ListVersions(ctx, promptID)
}

func (s *Service) Prompt(ctx context.Context, promptID uuid.UUID) (*models.Prompt, error) {
	return s.store.GetPrompt(ctx, promptID)
}

func (s *Service) List(ctx context.Context) ([]models.PromptSummary, error) {
	return s.store.ListPrompts(ctx)
}

func (s *Service) Delete(ctx context.Context, promptID uuid.UUID) error {
	unlock, err := s.lock(ctx, promptID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.store.DeletePrompt(ctx, promptID); err != nil {
		return err
	}
	s.invalidate(ctx, promptID)
	return nil
}

// Rollback appends a copy of the target version. History is never rewritten.
func (s *Service) Rollback(ctx context.Context, promptID uuid.UUID, target int) (*models.Version, error) {
	unlock, err := s.lock(ctx, promptID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	v, err := s.store.GetVersion(ctx, promptID, target)
	if err != nil {
		return nil, err
	}
	return s.appendLocked(ctx, promptID, v.Content, models.KindRollback, map[string]any{"rollback_to": target})
}

// SetOutput attaches a run result to v.
func (s *Service) SetOutput(ctx context.Context, v *models.Version, output string) error {
	unlock, err := s.lock(ctx, v.PromptID)
	if err != nil {
		return err
	}
	defer unlock()
	if err := s.store.AttachOutput(ctx, v.ID, output); err != nil {
		return err
	}
	v.Output = &output
	s.invalidate(ctx, v.PromptID)
	return nil
}

// AttachOutput sets the output of the given version, the latest when version
// is 0.
func (s *Service) AttachOutput(ctx context.Context, promptID uuid.UUID, version int, output string) (*models.Version, error) {
	v, err := s.At(ctx, promptID, version)
	if err != nil {
		return nil, err
	}
	if err := s.SetOutput(ctx, v, output); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) Criteria(ctx context.Context, promptID uuid.UUID) ([]models.Criterion, error) {
	if _, err := s.store.GetPrompt(ctx, promptID); err != nil {
		return nil, err
	}
	return s.store.ListCriteria(ctx, promptID)
}

func (s *Service) ReplaceCriteria(ctx context.Context, promptID uuid.UUID, criteria []models.Criterion) ([]models.Criterion, error) {
	return s.store.ReplaceCriteria(ctx, promptID, criteria)
}

// Checklist scores a version's text with eval.Checklist.
func (s *Service) Checklist(ctx context.Context, promptID uuid.UUID, version int, checklist []string) (*models.Version, eval.ChecklistResult, error) {
	v, err := s.At(ctx, promptID, version)
	if err != nil {
		return nil, eval.ChecklistResult{}, err
	}
	res := eval.Checklist(v.Content, checklist)
	s.metrics.EvaluationScored(models.EvalChecklist, res.Score)
	return v, res, nil
}

type ReviewRequest struct {
	Version     int      `json:"version,omitempty"`
	Desired     string   `json:"desired,omitempty"`
	Undesired   string   `json:"undesired"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// Review asks the LLM how to edit a version and records the answer. A blank
// Desired falls back to the goal recorded when the prompt was defined.
func (s *Service) Review(ctx context.Context, promptID uuid.UUID, req ReviewRequest) (*models.Review, error) {
	if s.reviewer == nil {
		return nil, fmt.Errorf("%w: no reviewer configured", models.ErrValidation)
	}
	v, err := s.At(ctx, promptID, req.Version)
	if err != nil {
		return nil, err
	}
	desired := strings.TrimSpace(req.Desired)
	if desired == "" {
		desired = goalOf(v)
	}
	if desired == "" {
		if p, err := s.store.GetPrompt(ctx, promptID); err == nil {
			desired = p.Goal
		}
	}

	res, err := s.reviewer.Review(ctx, eval.ReviewRequest{
		Content:     v.Content,
		Desired:     desired,
		Undesired:   req.Undesired,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	rv := &models.Review{
		PromptID:      promptID,
		SourceVersion: v.Version,
		Desired:       res.DesiredUsed,
		Undesired:     req.Undesired,
		Model:         res.Model,
		Temperature:   res.Temperature,
		MetaPrompt:    res.MetaPrompt,
		Output:        res.Output,
	}
	if err := s.store.CreateReview(ctx, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

func (s *Service) Reviews(ctx context.Context, promptID uuid.UUID) ([]models.Review, error) {
	return s.store.ListReviews(ctx, promptID)
}

func goalOf(v *models.Version) string {
	if len(v.Meta) == 0 {
		return ""
	}
	var meta struct {
		Goal string `json:"goal"`
	}
	if err := json.Unmarshal(v.Meta, &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Goal)
}

func (s *Service) invalidate(ctx context.Context, promptID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, promptID); err != nil {
		slog.Warn("version cache invalidate failed", "prompt_id", promptID, "error", err)
	}
}

var (
	_ VersionCache = (*cache.Versions)(nil)
	_ Locker       = (*cache.Locker)(nil)
	_ Locker       = (*LocalLocker)(nil)
)
