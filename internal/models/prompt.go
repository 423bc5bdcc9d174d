package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Version kinds recorded on each appended version.
const (
	KindDefine   = "define"
	KindEdit     = "edit"
	KindRollback = "rollback"
	KindRaw      = "raw"
)

type Prompt struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	Goal      string    `json:"goal,omitempty" db:"goal"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PromptSummary is a prompt together with the index of its latest version.
type PromptSummary struct {
	Prompt
	LatestVersion int `json:"latest_version"`
}

// Version is an immutable snapshot of a prompt's full text. Output is the
// only field that changes after creation.
type Version struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	PromptID  uuid.UUID       `json:"prompt_id" db:"prompt_id"`
	Version   int             `json:"version" db:"version"`
	Kind      string          `json:"kind,omitempty" db:"kind"`
	Content   string          `json:"content" db:"content"`
	Meta      json.RawMessage `json:"meta,omitempty" db:"meta"`
	Output    *string         `json:"output,omitempty" db:"output"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// HasOutput reports whether a run result has been attached.
func (v *Version) HasOutput() bool {
	return v.Output != nil && *v.Output != ""
}

// NewerThan orders versions for "latest" selection: higher index first, then
// later creation time, then the larger id.
func (v *Version) NewerThan(o *Version) bool {
	if v.Version != o.Version {
		return v.Version > o.Version
	}
	if !v.CreatedAt.Equal(o.CreatedAt) {
		return v.CreatedAt.After(o.CreatedAt)
	}
	return v.ID.String() > o.ID.String()
}

type CriterionType string

const (
	CriterionBoolean CriterionType = "boolean"
	CriterionScore   CriterionType = "score"
)

type Criterion struct {
	ID          uuid.UUID     `json:"id" db:"id"`
	PromptID    uuid.UUID     `json:"prompt_id" db:"prompt_id"`
	Key         string        `json:"key" db:"key"`
	Description string        `json:"desc" db:"description"`
	Type        CriterionType `json:"type" db:"type"`
	Weight      float64       `json:"weight" db:"weight"`
	CreatedAt   time.Time     `json:"created_at" db:"created_at"`
}

// UnmarshalJSON defaults an absent or null weight to 1. An explicit 0 is kept.
func (c *Criterion) UnmarshalJSON(data []byte) error {
	type plain Criterion
	aux := struct {
		*plain
		Weight *float64 `json:"weight"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Weight = 1
	if aux.Weight != nil {
		c.Weight = *aux.Weight
	}
	return nil
}
