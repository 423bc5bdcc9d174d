package edit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hirohiro424/sparkling/internal/models"
)

const patchSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["op"],
    "properties": {
      "op":   {"enum": ["set", "insert", "delete"]},
      "line": {"type": "integer"},
      "text": {"type": "string"}
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func patchValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("patch.json", strings.NewReader(patchSchema)); err != nil {
			schemaErr = fmt.Errorf("load patch schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile("patch.json")
	})
	return schema, schemaErr
}

// ParsePatchJSON decodes a JSON array of ops such as
// [{"op":"set","line":3,"text":"..."}]. A missing line defaults to 1.
func ParsePatchJSON(data []byte) ([]Op, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: patch is not JSON: %v", models.ErrValidation, err)
	}

	v, err := patchValidator()
	if err != nil {
		return nil, err
	}
	if err := v.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: patch does not match schema: %v", models.ErrValidation, err)
	}

	var raw []struct {
		Op   OpKind `json:"op"`
		Line *int   `json:"line"`
		Text string `json:"text"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode patch: %v", models.ErrValidation, err)
	}

	ops := make([]Op, 0, len(raw))
	for _, r := range raw {
		line := 1
		if r.Line != nil {
			line = *r.Line
		}
		ops = append(ops, Op{Op: r.Op, Line: line, Text: r.Text})
	}
	return ops, nil
}

// ParseLineSpec parses the "N:text" form used by --set and --insert.
func ParseLineSpec(kind OpKind, spec string) (Op, error) {
	n, text, ok := strings.Cut(spec, ":")
	if !ok {
		return Op{}, fmt.Errorf("%w: %s %q: expected N:text", models.ErrValidation, kind, spec)
	}
	line, err := strconv.Atoi(strings.TrimSpace(n))
	if err != nil {
		return Op{}, fmt.Errorf("%w: %s %q: line must be an integer", models.ErrValidation, kind, spec)
	}
	return Op{Op: kind, Line: line, Text: text}, nil
}

// ParseDelete parses the line number given to --delete.
func ParseDelete(spec string) (Op, error) {
	line, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil {
		return Op{}, fmt.Errorf("%w: delete %q: line must be an integer", models.ErrValidation, spec)
	}
	return Delete(line), nil
}
