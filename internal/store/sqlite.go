package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hirohiro424/sparkling/internal/models"
)

// timeLayout sorts lexicographically in creation order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite is a single-file Store. It holds one connection, so every write is
// serialized by the driver and version appends cannot interleave.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates/migrates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty sqlite path", models.ErrValidation)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, storeErr("create database dir", err)
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
			if err != nil {
				return nil, storeErr("create database file", err)
			}
			f.Close()
		}
	}

	// Connection pragmas go in the DSN so a reopened connection keeps them.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, storeErr("open database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, storeErr("set WAL", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous=NORMAL;")

	s := &SQLite{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

var sqliteMigrations = []string{
	// v1: prompts and versions
	`
CREATE TABLE IF NOT EXISTS prompts (
  id         TEXT PRIMARY KEY,
  title      TEXT NOT NULL,
  goal       TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompts_title ON prompts(title);
CREATE TABLE IF NOT EXISTS prompt_versions (
  id         TEXT PRIMARY KEY,
  prompt_id  TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
  version    INTEGER NOT NULL,
  kind       TEXT NOT NULL DEFAULT '',
  content    TEXT NOT NULL,
  meta       TEXT,
  output     TEXT,
  created_at TEXT NOT NULL,
  UNIQUE (prompt_id, version)
);
`,
	// v2: criteria, runs and evaluations
	`
CREATE TABLE IF NOT EXISTS criteria (
  id          TEXT PRIMARY KEY,
  prompt_id   TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
  position    INTEGER NOT NULL,
  key         TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  type        TEXT NOT NULL DEFAULT 'boolean',
  weight      REAL NOT NULL DEFAULT 1,
  created_at  TEXT NOT NULL,
  UNIQUE (prompt_id, key)
);
CREATE TABLE IF NOT EXISTS runs (
  id            TEXT PRIMARY KEY,
  prompt_id     TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
  version_id    TEXT NOT NULL,
  version       INTEGER NOT NULL,
  provider      TEXT NOT NULL DEFAULT '',
  model         TEXT NOT NULL DEFAULT '',
  params        TEXT,
  input         TEXT NOT NULL DEFAULT '',
  output        TEXT NOT NULL DEFAULT '',
  input_tokens  INTEGER NOT NULL DEFAULT 0,
  output_tokens INTEGER NOT NULL DEFAULT 0,
  total_tokens  INTEGER NOT NULL DEFAULT 0,
  cost_usd      REAL NOT NULL DEFAULT 0,
  latency_ms    INTEGER NOT NULL DEFAULT 0,
  created_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS evaluations (
  id         TEXT PRIMARY KEY,
  run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  kind       TEXT NOT NULL,
  score      REAL NOT NULL DEFAULT 0,
  details    TEXT,
  created_at TEXT NOT NULL
);
`,
	// v3: reviews
	`
CREATE TABLE IF NOT EXISTS reviews (
  id             TEXT PRIMARY KEY,
  prompt_id      TEXT NOT NULL REFERENCES prompts(id) ON DELETE CASCADE,
  source_version INTEGER NOT NULL,
  desired        TEXT NOT NULL DEFAULT '',
  undesired      TEXT NOT NULL DEFAULT '',
  model          TEXT NOT NULL DEFAULT '',
  temperature    REAL NOT NULL DEFAULT 0,
  meta_prompt    TEXT NOT NULL DEFAULT '',
  output         TEXT NOT NULL DEFAULT '',
  created_at     TEXT NOT NULL
);
`,
}

func (s *SQLite) migrate(ctx context.Context) error {
	var ver int
	_ = s.db.QueryRowContext(ctx, "PRAGMA user_version;").Scan(&ver)

	for ver < len(sqliteMigrations) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return storeErr("begin migration", err)
		}
		_, err = tx.ExecContext(ctx, sqliteMigrations[ver])
		if err == nil {
			_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version=%d;", ver+1))
		}
		if err != nil {
			_ = tx.Rollback()
			return storeErr(fmt.Sprintf("migrate v%d", ver+1), err)
		}
		if err := tx.Commit(); err != nil {
			return storeErr(fmt.Sprintf("commit v%d", ver+1), err)
		}
		ver++
	}
	return nil
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) CreatePrompt(ctx context.Context, p *models.Prompt) error {
	stamp(&p.ID, &p.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO prompts (id, title, goal, created_at) VALUES (?, ?, ?, ?)`,
		p.ID.String(), p.Title, p.Goal, formatTime(p.CreatedAt))
	if err != nil {
		return storeErr("insert prompt", err)
	}
	return nil
}

func (s *SQLite) GetPrompt(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, goal, created_at FROM prompts WHERE id = ?`, id.String())
	var p models.Prompt
	var pid, created string
	if err := row.Scan(&pid, &p.Title, &p.Goal, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("prompt", id)
		}
		return nil, storeErr("get prompt", err)
	}
	p.ID = uuid.MustParse(pid)
	p.CreatedAt = parseTime(created)
	return &p, nil
}

func (s *SQLite) ListPrompts(ctx context.Context) ([]models.PromptSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.title, p.goal, p.created_at,
		        COALESCE((SELECT MAX(v.version) FROM prompt_versions v WHERE v.prompt_id = p.id), 0)
		 FROM prompts p ORDER BY p.created_at, p.id`)
	if err != nil {
		return nil, storeErr("list prompts", err)
	}
	defer rows.Close()

	var out []models.PromptSummary
	for rows.Next() {
		var sum models.PromptSummary
		var pid, created string
		if err := rows.Scan(&pid, &sum.Title, &sum.Goal, &created, &sum.LatestVersion); err != nil {
			return nil, storeErr("scan prompt", err)
		}
		sum.ID = uuid.MustParse(pid)
		sum.CreatedAt = parseTime(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *SQLite) FindPromptIDsByTitle(ctx context.Context, title string) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM prompts WHERE title = ? ORDER BY id`, title)
	if err != nil {
		return nil, storeErr("find prompts by title", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan prompt id", err)
		}
		ids = append(ids, uuid.MustParse(id))
	}
	return ids, rows.Err()
}

func (s *SQLite) DeletePrompt(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM prompts WHERE id = ?`, id.String())
	if err != nil {
		return storeErr("delete prompt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("prompt", id)
	}
	return nil
}

func (s *SQLite) AppendVersion(ctx context.Context, v *models.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM prompts WHERE id = ?`, v.PromptID.String()).Scan(&exists); err != nil {
		return storeErr("check prompt", err)
	}
	if exists == 0 {
		return notFound("prompt", v.PromptID)
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM prompt_versions WHERE prompt_id = ?`,
		v.PromptID.String()).Scan(&next); err != nil {
		return storeErr("next version", err)
	}

	stamp(&v.ID, &v.CreatedAt)
	v.Version = next
	_, err = tx.ExecContext(ctx,
		`INSERT INTO prompt_versions (id, prompt_id, version, kind, content, meta, output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID.String(), v.PromptID.String(), v.Version, v.Kind, v.Content,
		nullJSON(v.Meta), v.Output, formatTime(v.CreatedAt))
	if err != nil {
		return storeErr("insert version", err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit", err)
	}
	return nil
}

const versionColumns = `id, prompt_id, version, kind, content, meta, output, created_at`

func (s *SQLite) LatestVersion(ctx context.Context, promptID uuid.UUID) (*models.Version, error) {
	v, err := s.oneVersion(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ?
		 ORDER BY version DESC, created_at DESC, id DESC LIMIT 1`, promptID.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("versions of prompt", promptID)
	}
	return v, err
}

func (s *SQLite) GetVersion(ctx context.Context, promptID uuid.UUID, version int) (*models.Version, error) {
	v, err := s.oneVersion(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ? AND version = ?`,
		promptID.String(), version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", fmt.Sprintf("%s v%d", promptID, version))
	}
	return v, err
}

func (s *SQLite) GetVersionByID(ctx context.Context, id uuid.UUID) (*models.Version, error) {
	v, err := s.oneVersion(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("version", id)
	}
	return v, err
}

func (s *SQLite) oneVersion(ctx context.Context, query string, args ...any) (*models.Version, error) {
	v, err := scanVersion(s.db.QueryRowContext(ctx, query, args...))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr("get version", err)
	}
	return v, err
}

func (s *SQLite) ListVersions(ctx context.Context, promptID uuid.UUID) ([]models.Version, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM prompt_versions WHERE prompt_id = ? ORDER BY version`,
		promptID.String())
	if err != nil {
		return nil, storeErr("list versions", err)
	}
	defer rows.Close()

	var out []models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, storeErr("scan version", err)
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

func (s *SQLite) AttachOutput(ctx context.Context, versionID uuid.UUID, output string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prompt_versions SET output = ? WHERE id = ?`, output, versionID.String())
	if err != nil {
		return storeErr("attach output", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("version", versionID)
	}
	return nil
}

func (s *SQLite) ReplaceCriteria(ctx context.Context, promptID uuid.UUID, criteria []models.Criterion) ([]models.Criterion, error) {
	rows, err := NormalizeCriteria(promptID, criteria)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin tx", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM prompts WHERE id = ?`, promptID.String()).Scan(&exists); err != nil {
		return nil, storeErr("check prompt", err)
	}
	if exists == 0 {
		return nil, notFound("prompt", promptID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM criteria WHERE prompt_id = ?`, promptID.String()); err != nil {
		return nil, storeErr("clear criteria", err)
	}
	for i, c := range rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO criteria (id, prompt_id, position, key, description, type, weight, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID.String(), promptID.String(), i, c.Key, c.Description, string(c.Type), c.Weight, formatTime(c.CreatedAt))
		if err != nil {
			return nil, storeErr("insert criterion", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit", err)
	}
	return rows, nil
}

func (s *SQLite) ListCriteria(ctx context.Context, promptID uuid.UUID) ([]models.Criterion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key, description, type, weight, created_at FROM criteria
		 WHERE prompt_id = ? ORDER BY position`, promptID.String())
	if err != nil {
		return nil, storeErr("list criteria", err)
	}
	defer rows.Close()

	var out []models.Criterion
	for rows.Next() {
		var c models.Criterion
		var id, typ, created string
		if err := rows.Scan(&id, &c.Key, &c.Description, &typ, &c.Weight, &created); err != nil {
			return nil, storeErr("scan criterion", err)
		}
		c.ID = uuid.MustParse(id)
		c.PromptID = promptID
		c.Type = models.CriterionType(typ)
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateRun(ctx context.Context, r *models.Run) error {
	stamp(&r.ID, &r.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, prompt_id, version_id, version, provider, model, params, input, output,
		                   input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.PromptID.String(), r.VersionID.String(), r.Version, r.Provider, r.Model,
		nullJSON(r.Params), r.Input, r.Output, r.InputTokens, r.OutputTokens, r.TotalTokens,
		r.CostUSD, r.LatencyMs, formatTime(r.CreatedAt))
	if err != nil {
		return storeErr("insert run", err)
	}
	return nil
}

func (s *SQLite) GetRun(ctx context.Context, id uuid.UUID) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, prompt_id, version_id, version, provider, model, params, input, output,
		        input_tokens, output_tokens, total_tokens, cost_usd, latency_ms, created_at
		 FROM runs WHERE id = ?`, id.String())

	var r models.Run
	var rid, pid, vid, created string
	var params sql.NullString
	err := row.Scan(&rid, &pid, &vid, &r.Version, &r.Provider, &r.Model, &params, &r.Input, &r.Output,
		&r.InputTokens, &r.OutputTokens, &r.TotalTokens, &r.CostUSD, &r.LatencyMs, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("run", id)
		}
		return nil, storeErr("get run", err)
	}
	r.ID = uuid.MustParse(rid)
	r.PromptID = uuid.MustParse(pid)
	r.VersionID = uuid.MustParse(vid)
	r.Params = rawJSON(params)
	r.CreatedAt = parseTime(created)
	return &r, nil
}

func (s *SQLite) CreateEvaluation(ctx context.Context, e *models.Evaluation) error {
	stamp(&e.ID, &e.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations (id, run_id, kind, score, details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.RunID.String(), e.Kind, e.Score, nullJSON(e.Details), formatTime(e.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return notFound("run", e.RunID)
		}
		return storeErr("insert evaluation", err)
	}
	return nil
}

func (s *SQLite) LatestEvaluation(ctx context.Context, runID uuid.UUID) (*models.Evaluation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, score, details, created_at FROM evaluations
		 WHERE run_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, runID.String())

	var e models.Evaluation
	var id, created string
	var details sql.NullString
	if err := row.Scan(&id, &e.Kind, &e.Score, &details, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("evaluation for run", runID)
		}
		return nil, storeErr("get evaluation", err)
	}
	e.ID = uuid.MustParse(id)
	e.RunID = runID
	e.Details = rawJSON(details)
	e.CreatedAt = parseTime(created)
	return &e, nil
}

func (s *SQLite) CreateReview(ctx context.Context, r *models.Review) error {
	stamp(&r.ID, &r.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reviews (id, prompt_id, source_version, desired, undesired, model, temperature, meta_prompt, output, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.PromptID.String(), r.SourceVersion, r.Desired, r.Undesired, r.Model,
		r.Temperature, r.MetaPrompt, r.Output, formatTime(r.CreatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return notFound("prompt", r.PromptID)
		}
		return storeErr("insert review", err)
	}
	return nil
}

func (s *SQLite) ListReviews(ctx context.Context, promptID uuid.UUID) ([]models.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_version, desired, undesired, model, temperature, meta_prompt, output, created_at
		 FROM reviews WHERE prompt_id = ? ORDER BY created_at, id`, promptID.String())
	if err != nil {
		return nil, storeErr("list reviews", err)
	}
	defer rows.Close()

	var out []models.Review
	for rows.Next() {
		var r models.Review
		var id, created string
		if err := rows.Scan(&id, &r.SourceVersion, &r.Desired, &r.Undesired, &r.Model, &r.Temperature,
			&r.MetaPrompt, &r.Output, &created); err != nil {
			return nil, storeErr("scan review", err)
		}
		r.ID = uuid.MustParse(id)
		r.PromptID = promptID
		r.CreatedAt = parseTime(created)
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var v models.Version
	var id, pid, created string
	var meta, output sql.NullString
	if err := row.Scan(&id, &pid, &v.Version, &v.Kind, &v.Content, &meta, &output, &created); err != nil {
		return nil, err
	}
	v.ID = uuid.MustParse(id)
	v.PromptID = uuid.MustParse(pid)
	v.Meta = rawJSON(meta)
	if output.Valid {
		out := output.String
		v.Output = &out
	}
	v.CreatedAt = parseTime(created)
	return &v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
