package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hirohiro424/sparkling/internal/models"
)

// Postgres stores prompts in the schema created by internal/database
// migrations. Appends lock the prompt row so concurrent writers to the same
// prompt queue behind each other.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// isForeignKey reports a foreign key violation (SQLSTATE 23503).
func isForeignKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func (s *Postgres) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	stamp(&p.ID, &p.CreatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO prompts (id, title, goal, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Title, p.Goal, p.CreatedAt)
	if err != nil {
		return storeErr("insert prompt", err)
	}
	return nil
}

func (s *Postgres) GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	var p models.Prompt
	err := s.db.QueryRow(ctx,
		`SELECT id, title, goal, created_at FROM prompts WHERE id = $1`, id,
	).Scan(&p.ID, &p.Title, &p.Goal, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("prompt", id)
		}
		return nil, storeErr("get prompt", err)
	}
	return &p, nil
}

func (s *Postgres) ListPrompts(ctx context.Context) ([]models.PromptSummary, error) {
	rows, err := s.db.Query(ctx,
		`SELECT p.id, p.title, p.goal, p.created_at, COALESCE(MAX(v.version), 0)
		 FROM prompts p LEFT JOIN prompt_versions v ON v.prompt_id = p.id
		 GROUP BY p.id ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, storeErr("list prompts", err)
	}
	defer rows.Close()

	var out []models.PromptSummary
	for rows.Next() {
		var sum models.PromptSummary
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Goal, &sum.CreatedAt, &sum.LatestVersion); err != nil {
			return nil, storeErr("scan prompt", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *Postgres) FindPromptIDsByTitle(ctx context.Context, title string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM prompts WHERE title = $1 ORDER BY id::text`, title)
	if err != nil {
		return nil, storeErr("find prompts by title", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan prompt id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Postgres) DeletePrompt(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM prompts WHERE id = $1`, id)
	if err != nil {
		return storeErr("delete prompt", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("prompt", id)
	}
	return nil
}

func (s *Postgres) AppendVersion(ctx context.Context, v *models.Version) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM prompts WHERE id = $1 FOR UPDATE`, v.PromptID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("prompt", v.PromptID)
		}
		return storeErr("lock prompt", err)
	}

	var next int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = $1`,
		v.PromptID).Scan(&next)
	if err != nil {
		return storeErr("next version", err)
	}

	stamp(&v.ID, &v.CreatedAt)
	v.Version = next
	_, err = tx.Exec(ctx,
		`INSERT INTO prompt_versions (id, prompt_id, version, kind, content, meta, output, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.PromptID, v.Version, v.Kind, v.Content, nullJSON(v.Meta), v.Output, v.CreatedAt)
	if err != nil {
		return storeErr("insert version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

func (s *Postgres) queryVersion(ctx context.Context, what any, query string, args ...any) (*models.Version, error) {
	var v models.Version
	var meta *string
	err := s.db.QueryRow(ctx, query, args...).Scan(
		&v.ID, &v.PromptID, &v.Version, &v.Kind, &v.Content, &meta, &v.Output, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("version", what)
		}
		return nil, storeErr("get version", err)
	}
	if meta != nil {
		v.Meta = []byte(*meta)
	}
	return &v, nil
}

const pgVersionColumns = `id, prompt_id, version, kind, content, meta::text, output, created_at`

func (s *Postgres) LatestVersion(ctx context.Context, promptID uuid.UUID) (*models.Version, error) {
	return s.queryVersion(ctx, fmt.Sprintf("latest of %s", promptID),
		`SELECT `+pgVersionColumns+` FROM prompt_versions WHERE prompt_id = $1
		 ORDER BY version DESC, created_at DESC, id::text DESC LIMIT 1`, promptID)
}

func (s *Postgres) GetVersion(ctx context.Context, promptID uuid.UUID, version int) (*models.Version, error) {
	return s.queryVersion(ctx, fmt.Sprintf("%s v%d", promptID, version),
		`SELECT `+pgVersionColumns+` FROM prompt_versions WHERE prompt_id = $1 AND version = $2`,
		promptID, version)
}

func (s *Postgres) GetVersionByID(ctx context.Context, id uuid.UUID) (*models.Version, error) {
	return s.queryVersion(ctx, id,
		`SELECT `+pgVersionColumns+` FROM prompt_versions WHERE id = $1`, id)
}

func (s *Postgres) ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.Version, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+pgVersionColumns+` FROM prompt_versions WHERE prompt_id = $1 ORDER BY version`, promptID)
	if err != nil {
		return nil, storeErr("list versions", err)
	}
	defer rows.Close()

	var out []models.Version
	for rows.Next() {
		var v models.Version
		var meta *string
		if err := rows.Scan(&v.ID, &v.PromptID, &v.Version, &v.Kind, &v.Content, &meta, &v.Output, &v.CreatedAt); err != nil {
			return nil, storeErr("scan version", err)
		}
		if meta != nil {
			v.Meta = []byte(*meta)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Postgres) AttachOutput(ctx context.Context, versionID uuid.UUID, output string) error {
	tag, err := s.db.Exec(ctx, `UPDATE prompt_versions SET output = $1 WHERE id = $2`, output, versionID)
	if err != nil {
		return storeErr("attach output", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("version", versionID)
	}
	return nil
}

func (s *Postgres) ReplaceCriteria(ctx context.Context, promptID uuid.UUID, criteria []models.Criterion) ([]models.Criterion, error) {
	rows, err := NormalizeCriteria(promptID, criteria)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM prompts WHERE id = $1 FOR UPDATE`, promptID).Scan(&locked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("prompt", promptID)
		}
		return nil, storeErr("lock prompt", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM criteria WHERE prompt_id = $1`, promptID); err != nil {
		return nil, storeErr("clear criteria", err)
	}

	batch := &pgx.Batch{}
	for i, c := range rows {
		batch.Queue(
			`INSERT INTO criteria (id, prompt_id, position, key, description, type, weight, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			c.ID, promptID, i, c.Key, c.Description, string(c.Type), c.Weight, c.CreatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, storeErr("insert criteria", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit", err)
	}
	return rows, nil
}

func (s *Postgres) ListCriteria(ctx context.Context, promptID uuid.UUID) ([]models.Criterion, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, prompt_id, key, description, type, weight, created_at
		 FROM criteria WHERE prompt_id = $1 ORDER BY position`, promptID)
	if err != nil {
		return nil, storeErr("list criteria", err)
	}
	defer rows.Close()

	var out []models.Criterion
	for rows.Next() {
		var c models.Criterion
		var typ string
		if err := rows.Scan(&c.ID, &c.PromptID, &c.Key, &c.Description, &typ, &c.Weight, &c.CreatedAt); err != nil {
			return nil, storeErr("scan criterion", err)
		}
		c.Type = models.CriterionType(typ)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) CreateRun(ctx context.Context, r *models.Run) error {
	stamp(&r.ID, &r.CreatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO runs (id, prompt_id, version_id, version, provider, model, params, input, output,
		                   input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.PromptID, r.VersionID, r.Version, r.Provider, r.Model, nullJSON(r.Params), r.Input, r.Output,
		r.InputTokens, r.OutputTokens, r.TotalTokens, r.CostUSD, r.LatencyMs, r.CreatedAt)
	if err != nil {
		if isForeignKey(err) {
			return notFound("prompt version", r.VersionID)
		}
		return storeErr("insert run", err)
	}
	return nil
}

func (s *Postgres) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	var r models.Run
	var params *string
	err := s.db.QueryRow(ctx,
		`SELECT id, prompt_id, version_id, version, provider, model, params::text, input, output,
		        input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, created_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.PromptID, &r.VersionID, &r.Version, &r.Provider, &r.Model, &params, &r.Input, &r.Output,
		&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.CostUSD, &r.LatencyMs, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("run", id)
		}
		return nil, storeErr("get run", err)
	}
	if params != nil {
		r.Params = []byte(*params)
	}
	return &r, nil
}

func (s *Postgres) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	stamp(&e.ID, &e.CreatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO evaluations (id, run_id, kind, score, details, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.RunID, e.Kind, e.Score, nullJSON(e.Details), e.CreatedAt)
	if err != nil {
		if isForeignKey(err) {
			return notFound("run", e.RunID)
		}
		return storeErr("insert evaluation", err)
	}
	return nil
}

func (s *Postgres) LatestEvaluation(ctx context.Context, runID uuid.UUID) (*models.Evaluation, error) {
	var e models.Evaluation
	var details *string
	err := s.db.QueryRow(ctx,
		`SELECT id, run_id, kind, score, details::text, created_at FROM evaluations
		 WHERE run_id = $1 ORDER BY created_at DESC, id::text DESC LIMIT 1`, runID,
	).Scan(&e.ID, &e.RunID, &e.Kind, &e.Score, &details, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("evaluation for run", runID)
		}
		return nil, storeErr("get evaluation", err)
	}
	if details != nil {
		e.Details = []byte(*details)
	}
	return &e, nil
}

func (s *Postgres) CreateReview(ctx context.Context, r *models.Review) error {
	stamp(&r.ID, &r.CreatedAt)
	_, err := s.db.Exec(ctx,
		`INSERT INTO reviews (id, prompt_id, source_version, desired, undesired, model, temperature, meta_prompt, output, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.PromptID, r.SourceVersion, r.Desired, r.Undesired, r.Model, r.Temperature, r.MetaPrompt, r.Output, r.CreatedAt)
	if err != nil {
		if isForeignKey(err) {
			return notFound("prompt", r.PromptID)
		}
		return storeErr("insert review", err)
	}
	return nil
}

func (s *Postgres) ListReviews(ctx context.Context, promptID uuid.UUID) ([]models.Review, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, prompt_id, source_version, desired, undesired, model, temperature, meta_prompt, output, created_at
		 FROM reviews WHERE prompt_id = $1 ORDER BY created_at, id`, promptID)
	if err != nil {
		return nil, storeErr("list reviews", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		var r models.Review
		if err := rows.Scan(&r.ID, &r.PromptID, &r.SourceVersion, &r.Desired, &r.Undesired, &r.Model,
			&r.Temperature, &r.MetaPrompt, &r.Output, &r.CreatedAt); err != nil {
			return nil, storeErr("scan review", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
