// Package store persists prompts, their append-only versions and everything
// hanging off them (criteria, runs, evaluations, reviews).
//
// Three backends implement Store: an append-only JSON-lines file, SQLite and
// Postgres. All of them assign version indices as max+1 under a per-prompt
// write lock and never rewrite a version except to attach its output.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/config"
	"github.com/hirohiro424/sparkling/internal/database"
	"github.com/hirohiro424/sparkling/internal/models"
)

type Store interface {
	CreatePrompt(ctx context.Context, p *models.Prompt) error
	GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
	// ListPrompts returns every prompt with its latest version index, oldest
	// prompt first.
	ListPrompts(ctx context.Context) ([]models.PromptSummary, error)
	// FindPromptIDsByTitle returns the ids of prompts with exactly this title,
	// sorted by their string form.
	FindPromptIDsByTitle(ctx context.Context, title string) ([]uuid.UUID, error)
	// DeletePrompt removes the prompt and everything that belongs to it.
	DeletePrompt(ctx context.Context, id uuid.UUID) error

	// AppendVersion assigns v.Version = max+1 (1 for the first version), plus
	// ID and CreatedAt when unset, and persists v.
	AppendVersion(ctx context.Context, v *models.Version) error
	LatestVersion(ctx context.Context, promptID uuid.UUID) (*models.Version, error)
	GetVersion(ctx context.Context, promptID uuid.UUID, version int) (*models.Version, error)
	GetVersionByID(ctx context.Context, id uuid.UUID) (*models.Version, error)
	// ListVersions returns versions in ascending index order.
	ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.Version, error)
	AttachOutput(ctx context.Context, versionID uuid.UUID, output string) error

	// ReplaceCriteria swaps the whole criteria set of a prompt and returns the
	// stored rows.
	ReplaceCriteria(ctx context.Context, promptID uuid.UUID, criteria []models.Criterion) ([]models.Criterion, error)
	ListCriteria(ctx context.Context, promptID uuid.UUID) ([]models.Criterion, error)

	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error)
	CreateEvaluation(ctx context.Context, e *models.Evaluation) error
	LatestEvaluation(ctx context.Context, runID uuid.UUID) (*models.Evaluation, error)

	CreateReview(ctx context.Context, r *models.Review) error
	ListReviews(ctx context.Context, promptID uuid.UUID) ([]models.Review, error)

	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*JSONL)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Postgres)(nil)
)

// Open builds the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Store.Backend {
	case "jsonl", "":
		return OpenJSONL(cfg.Store.JSONLPath)
	case "sqlite":
		return OpenSQLite(ctx, cfg.Store.SQLitePath)
	case "postgres":
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.RunMigrations(ctx, pool, cfg.Database.MigrationsPath); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", models.ErrValidation, cfg.Store.Backend)
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStore, op, err)
}

func notFound(what string, key any) error {
	return fmt.Errorf("%w: %s %v", models.ErrNotFound, what, key)
}

func now() time.Time {
	return time.Now().UTC()
}

func stamp(id *uuid.UUID, at *time.Time) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
	if at.IsZero() {
		*at = now()
	}
}

// NormalizeCriteria fills defaults and rejects invalid rows: blank keys become
// c1, c2, ... by position, an empty type means boolean, weights must not be
// negative and keys must be unique.
func NormalizeCriteria(promptID uuid.UUID, in []models.Criterion) ([]models.Criterion, error) {
	out := make([]models.Criterion, len(in))
	seen := make(map[string]bool, len(in))
	created := now()
	for i, c := range in {
		c.PromptID = promptID
		c.Key = strings.TrimSpace(c.Key)
		if c.Key == "" {
			c.Key = fmt.Sprintf("c%d", i+1)
		}
		if seen[c.Key] {
			return nil, fmt.Errorf("%w: duplicate criterion key %q", models.ErrValidation, c.Key)
		}
		seen[c.Key] = true

		switch c.Type {
		case "":
			c.Type = models.CriterionBoolean
		case models.CriterionBoolean, models.CriterionScore:
		default:
			return nil, fmt.Errorf("%w: criterion %q: unknown type %q", models.ErrValidation, c.Key, c.Type)
		}
		if c.Weight < 0 {
			return nil, fmt.Errorf("%w: criterion %q: weight must be >= 0", models.ErrValidation, c.Key)
		}
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = created
		}
		out[i] = c
	}
	return out, nil
}
