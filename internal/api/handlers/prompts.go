package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hirohiro424/sparkling/internal/edit"
	"github.com/hirohiro424/sparkling/internal/models"
	"github.com/hirohiro424/sparkling/internal/prompt"
)

type PromptHandler struct {
	svc *prompt.Service
}

func NewPromptHandler(svc *prompt.Service) *PromptHandler {
	return &PromptHandler{svc: svc}
}

type defineRequest struct {
	Title string `json:"title"`
	Goal  string `json:"goal"`
}

type versionResponse struct {
	PromptID uuid.UUID `json:"prompt_id"`
	Version  int       `json:"version"`
	Kind     string    `json:"kind,omitempty"`
	Text     string    `json:"text"`
	Output   *string   `json:"output_text,omitempty"`
}

func toResponse(v *models.Version) versionResponse {
	return versionResponse{PromptID: v.PromptID, Version: v.Version, Kind: v.Kind, Text: v.Content, Output: v.Output}
}

// Define creates a prompt and its drafted first version.
func (h *PromptHandler) Define(w http.ResponseWriter, r *http.Request) {
	var req defineRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, v, err := h.svc.Define(r.Context(), req.Title, req.Goal)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(v))
}

func (h *PromptHandler) List(w http.ResponseWriter, r *http.Request) {
	prompts, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts, "count": len(prompts)})
}

// Get returns the prompt with its latest text.
func (h *PromptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.svc.Prompt(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"prompt": p, "version": 0, "text": ""}
	v, err := h.svc.Latest(r.Context(), id)
	switch {
	case err == nil:
		resp["version"], resp["text"] = v.Version, v.Content
		if v.Output != nil {
			resp["output_text"] = *v.Output
		}
	case statusFor(err) != http.StatusNotFound:
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *PromptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// editRequest is the wire form of an edit. replace_lines is a list of
// [index, text] pairs with 0-based indices.
type editRequest struct {
	PromptID      string            `json:"prompt_id"`
	Title         string            `json:"title"`
	Raw           string            `json:"raw_prompt"`
	AddConditions []string          `json:"add_conditions"`
	AddFormatting []string          `json:"add_formatting"`
	AddForbidden  []string          `json:"add_forbidden"`
	ReplaceLines  []json.RawMessage `json:"replace_lines"`
	Ops           json.RawMessage   `json:"ops"`
	Changes       []string          `json:"changes"`
	Note          string            `json:"note"`
}

func (e editRequest) toEdit() (prompt.EditRequest, error) {
	out := prompt.EditRequest{
		Raw:     e.Raw,
		Changes: e.Changes,
		Note:    e.Note,
		Sections: edit.Sections{
			Conditions: e.AddConditions,
			Formatting: e.AddFormatting,
			Forbidden:  e.AddForbidden,
		},
	}
	if len(e.Ops) > 0 && string(e.Ops) != "null" {
		ops, err := edit.ParsePatchJSON(e.Ops)
		if err != nil {
			return out, err
		}
		out.Ops = ops
	}
	for i, raw := range e.ReplaceLines {
		lr, err := parseReplacement(raw)
		if err != nil {
			return out, fmt.Errorf("%w: replace_lines[%d]: %v", models.ErrValidation, i, err)
		}
		out.ReplaceLines = append(out.ReplaceLines, lr)
	}
	return out, nil
}

func parseReplacement(raw json.RawMessage) (edit.LineReplacement, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
		return edit.LineReplacement{}, fmt.Errorf("expected [index, text]")
	}
	var lr edit.LineReplacement
	if err := json.Unmarshal(pair[0], &lr.Index); err != nil {
		return lr, fmt.Errorf("index must be an integer")
	}
	if err := json.Unmarshal(pair[1], &lr.Text); err != nil {
		return lr, fmt.Errorf("text must be a string")
	}
	return lr, nil
}

// Edit serves both /prompts/{id}/edit and /edit, where the prompt is named
// by prompt_id or title in the body.
func (h *PromptHandler) Edit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ref := strings.TrimSpace(req.PromptID)
	if p := chi.URLParam(r, "id"); p != "" {
		ref = p
	}
	id, err := h.svc.Resolve(r.Context(), ref, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}

	er, err := req.toEdit()
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.svc.Edit(r.Context(), id, er)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(v))
}

func (h *PromptHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	versions, err := h.svc.All(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "versions": versions})
}

func (h *PromptHandler) Version(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := intParam(chi.URLParam(r, "version"), "version", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.svc.Get(r.Context(), id, n)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(v))
}

func (h *PromptHandler) Diff(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	a, err := intParam(q.Get("v1"), "v1", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := intParam(q.Get("v2"), "v2", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if a == 0 || b == 0 {
		writeError(w, r, fmt.Errorf("%w: v1 and v2 are required", models.ErrValidation))
		return
	}

	diff, err := h.svc.Diff(r.Context(), id, a, b)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "v1": a, "v2": b, "diff": diff})
}

func (h *PromptHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Version int `json:"version"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version < 1 {
		writeError(w, r, fmt.Errorf("%w: version must be a positive integer", models.ErrValidation))
		return
	}

	v, err := h.svc.Rollback(r.Context(), id, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(v))
}

// Result attaches an output produced outside the notebook.
func (h *PromptHandler) Result(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Version int     `json:"version"`
		Output  *string `json:"output_text"`
	}
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Output == nil {
		writeError(w, r, fmt.Errorf("%w: output_text is required", models.ErrValidation))
		return
	}

	v, err := h.svc.AttachOutput(r.Context(), id, req.Version, *req.Output)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toResponse(v))
}

func (h *PromptHandler) Criteria(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	crits, err := h.svc.Criteria(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, crits)
}

// ReplaceCriteria takes the full criteria list; omitted keys become c1, c2...
func (h *PromptHandler) ReplaceCriteria(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req []models.Criterion
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	crits, err := h.svc.ReplaceCriteria(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, crits)
}

func (h *PromptHandler) Checklist(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req struct {
		Version   int      `json:"version"`
		Checklist []string `json:"checklist"`
	}
	if err := decodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	_, res, err := h.svc.Checklist(r.Context(), id, req.Version, req.Checklist)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *PromptHandler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req prompt.ReviewRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	rv, err := h.svc.Review(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rv)
}

func (h *PromptHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	reviews, err := h.svc.Reviews(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"prompt_id": id, "reviews": reviews})
}
