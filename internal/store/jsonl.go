package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/models"
)

// Record types written to the log. Lines without a record_type are treated as
// versions, and "eval" as a review.
const (
	recPrompt     = "prompt"
	recVersion    = "version"
	recOutput     = "output"
	recCriteria   = "criteria"
	recRun        = "run"
	recEvaluation = "evaluation"
	recReview     = "review"
	recDelete     = "delete"
	recLegacyEval = "eval"
)

// JSONL is a Store over an append-only JSON-lines file. Every change is a new
// line; reads fold the log into memory, picking up lines appended since the
// previous read. Appends are serialized within the process only.
type JSONL struct {
	path string

	mu     sync.Mutex
	offset int64
	lineNo int
	st     *jsonlState
}

type jsonlState struct {
	prompts  map[uuid.UUID]*models.Prompt
	versions map[uuid.UUID][]*models.Version
	byID     map[uuid.UUID]*models.Version
	criteria map[uuid.UUID][]models.Criterion
	runs     map[uuid.UUID]*models.Run
	evals    map[uuid.UUID][]*models.Evaluation
	reviews  map[uuid.UUID][]models.Review
}

func newJSONLState() *jsonlState {
	return &jsonlState{
		prompts:  make(map[uuid.UUID]*models.Prompt),
		versions: make(map[uuid.UUID][]*models.Version),
		byID:     make(map[uuid.UUID]*models.Version),
		criteria: make(map[uuid.UUID][]models.Criterion),
		runs:     make(map[uuid.UUID]*models.Run),
		evals:    make(map[uuid.UUID][]*models.Evaluation),
		reviews:  make(map[uuid.UUID][]models.Review),
	}
}

type envelope struct {
	RecordType string `json:"record_type,omitempty"`
}

type promptRecord struct {
	RecordType string `json:"record_type"`
	models.Prompt
}

type versionRecord struct {
	RecordType string `json:"record_type,omitempty"`
	Title      string `json:"title,omitempty"`
	models.Version
}

type outputRecord struct {
	RecordType string    `json:"record_type"`
	VersionID  uuid.UUID `json:"version_id"`
	Output     string    `json:"output"`
	CreatedAt  time.Time `json:"created_at"`
}

type criteriaRecord struct {
	RecordType string             `json:"record_type"`
	PromptID   uuid.UUID          `json:"prompt_id"`
	Criteria   []models.Criterion `json:"criteria"`
	CreatedAt  time.Time          `json:"created_at"`
}

type runRecord struct {
	RecordType string `json:"record_type"`
	models.Run
}

type evaluationRecord struct {
	RecordType string `json:"record_type"`
	models.Evaluation
}

type reviewRecord struct {
	RecordType string `json:"record_type"`
	models.Review
}

type deleteRecord struct {
	RecordType string    `json:"record_type"`
	PromptID   uuid.UUID `json:"prompt_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// OpenJSONL opens the log at path, creating its directory if needed. The file
// itself is created on the first write.
func OpenJSONL(path string) (*JSONL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: empty jsonl path", models.ErrValidation)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storeErr("create data dir", err)
	}
	s := &JSONL{path: path, st: newJSONLState()}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONL) Close() error { return nil }

func (s *JSONL) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh()
}

// refresh folds complete lines appended since the last call. A file shorter
// than the consumed offset is reloaded from scratch. Callers hold s.mu.
func (s *JSONL) refresh() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.offset, s.lineNo, s.st = 0, 0, newJSONLState()
		return nil
	}
	if err != nil {
		return storeErr("open log", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return storeErr("stat log", err)
	}
	if info.Size() < s.offset {
		s.offset, s.lineNo, s.st = 0, 0, newJSONLState()
	}
	if info.Size() == s.offset {
		return nil
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return storeErr("seek log", err)
	}

	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			// Partial trailing line from a concurrent writer; read it next time.
			return nil
		}
		if err != nil {
			return storeErr("read log", err)
		}
		s.offset += int64(len(line))
		s.lineNo++
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if err := s.st.apply(line, s.lineNo); err != nil {
			slog.Warn("skipping malformed log line", "path", s.path, "line", s.lineNo, "error", err)
		}
	}
}

func (st *jsonlState) apply(line []byte, lineNo int) error {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return err
	}

	switch env.RecordType {
	case recPrompt:
		var rec promptRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		p := rec.Prompt
		st.prompts[p.ID] = &p

	case recVersion, "":
		var rec versionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		v := rec.Version
		if v.PromptID == uuid.Nil || v.Version < 1 {
			return fmt.Errorf("version record without prompt_id/version")
		}
		if v.ID == uuid.Nil {
			v.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d", v.PromptID, v.Version)))
		}
		if _, ok := st.prompts[v.PromptID]; !ok {
			st.prompts[v.PromptID] = &models.Prompt{ID: v.PromptID, Title: rec.Title, CreatedAt: v.CreatedAt}
		}
		st.versions[v.PromptID] = append(st.versions[v.PromptID], &v)
		st.byID[v.ID] = &v

	case recOutput:
		var rec outputRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		if v, ok := st.byID[rec.VersionID]; ok {
			out := rec.Output
			v.Output = &out
		}

	case recCriteria:
		var rec criteriaRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		st.criteria[rec.PromptID] = rec.Criteria

	case recRun:
		var rec runRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		r := rec.Run
		st.runs[r.ID] = &r

	case recEvaluation:
		var rec evaluationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		e := rec.Evaluation
		st.evals[e.RunID] = append(st.evals[e.RunID], &e)

	case recReview, recLegacyEval:
		var rec reviewRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		r := rec.Review
		if r.ID == uuid.Nil {
			r.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("review/%d", lineNo)))
		}
		st.reviews[r.PromptID] = append(st.reviews[r.PromptID], r)

	case recDelete:
		var rec deleteRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return err
		}
		st.deletePrompt(rec.PromptID)

	default:
		return fmt.Errorf("unknown record_type %q", env.RecordType)
	}
	return nil
}

func (st *jsonlState) deletePrompt(id uuid.UUID) {
	for _, v := range st.versions[id] {
		delete(st.byID, v.ID)
	}
	for rid, r := range st.runs {
		if r.PromptID == id {
			delete(st.evals, rid)
			delete(st.runs, rid)
		}
	}
	delete(st.versions, id)
	delete(st.criteria, id)
	delete(st.reviews, id)
	delete(st.prompts, id)
}

// write appends rec as one line and folds it. Callers hold s.mu.
func (s *JSONL) write(rec any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return storeErr("marshal record", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return storeErr("open log", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return storeErr("append record", err)
	}
	if err := f.Close(); err != nil {
		return storeErr("close log", err)
	}
	return s.refresh()
}

// view refreshes the state and runs fn against it under the lock.
func (s *JSONL) view(fn func(st *jsonlState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refresh(); err != nil {
		return err
	}
	return fn(s.st)
}

func (s *JSONL) CreatePrompt(_ context.Context, p *models.Prompt) error {
	stamp(&p.ID, &p.CreatedAt)
	return s.view(func(*jsonlState) error {
		return s.write(promptRecord{RecordType: recPrompt, Prompt: *p})
	})
}

func (s *JSONL) GetPrompt(_ context.Context, id uuid.UUID) (*models.Prompt, error) {
	var out *models.Prompt
	err := s.view(func(st *jsonlState) error {
		p, ok := st.prompts[id]
		if !ok {
			return notFound("prompt", id)
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

func (s *JSONL) ListPrompts(context.Context) ([]models.PromptSummary, error) {
	var out []models.PromptSummary
	err := s.view(func(st *jsonlState) error {
		for id, p := range st.prompts {
			sum := models.PromptSummary{Prompt: *p}
			if latest := st.latest(id); latest != nil {
				sum.LatestVersion = latest.Version
			}
			out = append(out, sum)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (s *JSONL) FindPromptIDsByTitle(_ context.Context, title string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.view(func(st *jsonlState) error {
		for id, p := range st.prompts {
			if p.Title == title {
				ids = append(ids, id)
			}
		}
		return nil
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, err
}

func (s *JSONL) DeletePrompt(_ context.Context, id uuid.UUID) error {
	return s.view(func(st *jsonlState) error {
		if _, ok := st.prompts[id]; !ok {
			return notFound("prompt", id)
		}
		return s.write(deleteRecord{RecordType: recDelete, PromptID: id, CreatedAt: now()})
	})
}

func (st *jsonlState) latest(promptID uuid.UUID) *models.Version {
	var best *models.Version
	for _, v := range st.versions[promptID] {
		if best == nil || v.NewerThan(best) {
			best = v
		}
	}
	return best
}

func (s *JSONL) AppendVersion(_ context.Context, v *models.Version) error {
	return s.view(func(st *jsonlState) error {
		p, ok := st.prompts[v.PromptID]
		if !ok {
			return notFound("prompt", v.PromptID)
		}
		next := 1
		if latest := st.latest(v.PromptID); latest != nil {
			next = latest.Version + 1
		}
		stamp(&v.ID, &v.CreatedAt)
		v.Version = next
		return s.write(versionRecord{RecordType: recVersion, Title: p.Title, Version: *v})
	})
}

func (s *JSONL) LatestVersion(_ context.Context, promptID uuid.UUID) (*models.Version, error) {
	var out *models.Version
	err := s.view(func(st *jsonlState) error {
		v := st.latest(promptID)
		if v == nil {
			return notFound("versions of prompt", promptID)
		}
		out = copyVersion(v)
		return nil
	})
	return out, err
}

func (s *JSONL) GetVersion(_ context.Context, promptID uuid.UUID, version int) (*models.Version, error) {
	var out *models.Version
	err := s.view(func(st *jsonlState) error {
		var best *models.Version
		for _, v := range st.versions[promptID] {
			if v.Version == version && (best == nil || v.NewerThan(best)) {
				best = v
			}
		}
		if best == nil {
			return notFound("version", fmt.Sprintf("%s v%d", promptID, version))
		}
		out = copyVersion(best)
		return nil
	})
	return out, err
}

func (s *JSONL) GetVersionByID(_ context.Context, id uuid.UUID) (*models.Version, error) {
	var out *models.Version
	err := s.view(func(st *jsonlState) error {
		v, ok := st.byID[id]
		if !ok {
			return notFound("version", id)
		}
		out = copyVersion(v)
		return nil
	})
	return out, err
}

func (s *JSONL) ListVersions(_ context.Context, promptID uuid.UUID) ([]models.Version, error) {
	var out []models.Version
	err := s.view(func(st *jsonlState) error {
		for _, v := range st.versions[promptID] {
			out = append(out, *copyVersion(v))
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, err
}

func (s *JSONL) AttachOutput(_ context.Context, versionID uuid.UUID, output string) error {
	return s.view(func(st *jsonlState) error {
		if _, ok := st.byID[versionID]; !ok {
			return notFound("version", versionID)
		}
		return s.write(outputRecord{RecordType: recOutput, VersionID: versionID, Output: output, CreatedAt: now()})
	})
}

func (s *JSONL) ReplaceCriteria(_ context.Context, promptID uuid.UUID, criteria []models.Criterion) ([]models.Criterion, error) {
	rows, err := NormalizeCriteria(promptID, criteria)
	if err != nil {
		return nil, err
	}
	err = s.view(func(st *jsonlState) error {
		if _, ok := st.prompts[promptID]; !ok {
			return notFound("prompt", promptID)
		}
		return s.write(criteriaRecord{RecordType: recCriteria, PromptID: promptID, Criteria: rows, CreatedAt: now()})
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *JSONL) ListCriteria(_ context.Context, promptID uuid.UUID) ([]models.Criterion, error) {
	var out []models.Criterion
	err := s.view(func(st *jsonlState) error {
		out = append(out, st.criteria[promptID]...)
		return nil
	})
	return out, err
}

func (s *JSONL) CreateRun(_ context.Context, r *models.Run) error {
	stamp(&r.ID, &r.CreatedAt)
	return s.view(func(st *jsonlState) error {
		if _, ok := st.prompts[r.PromptID]; !ok {
			return notFound("prompt", r.PromptID)
		}
		return s.write(runRecord{RecordType: recRun, Run: *r})
	})
}

func (s *JSONL) GetRun(_ context.Context, id uuid.UUID) (*models.Run, error) {
	var out *models.Run
	err := s.view(func(st *jsonlState) error {
		r, ok := st.runs[id]
		if !ok {
			return notFound("run", id)
		}
		cp := *r
		out = &cp
		return nil
	})
	return out, err
}

func (s *JSONL) CreateEvaluation(_ context.Context, e *models.Evaluation) error {
	stamp(&e.ID, &e.CreatedAt)
	return s.view(func(st *jsonlState) error {
		if _, ok := st.runs[e.RunID]; !ok {
			return notFound("run", e.RunID)
		}
		return s.write(evaluationRecord{RecordType: recEvaluation, Evaluation: *e})
	})
}

func (s *JSONL) LatestEvaluation(_ context.Context, runID uuid.UUID) (*models.Evaluation, error) {
	var out *models.Evaluation
	err := s.view(func(st *jsonlState) error {
		var best *models.Evaluation
		for _, e := range st.evals[runID] {
			if best == nil || !e.CreatedAt.Before(best.CreatedAt) {
				best = e
			}
		}
		if best == nil {
			return notFound("evaluation for run", runID)
		}
		cp := *best
		out = &cp
		return nil
	})
	return out, err
}

func (s *JSONL) CreateReview(_ context.Context, r *models.Review) error {
	stamp(&r.ID, &r.CreatedAt)
	return s.view(func(st *jsonlState) error {
		if _, ok := st.prompts[r.PromptID]; !ok {
			return notFound("prompt", r.PromptID)
		}
		return s.write(reviewRecord{RecordType: recReview, Review: *r})
	})
}

func (s *JSONL) ListReviews(_ context.Context, promptID uuid.UUID) ([]models.Review, error) {
	var out []models.Review
	err := s.view(func(st *jsonlState) error {
		out = append(out, st.reviews[promptID]...)
		return nil
	})
	return out, err
}

func copyVersion(v *models.Version) *models.Version {
	cp := *v
	if v.Output != nil {
		out := *v.Output
		cp.Output = &out
	}
	return &cp
}
