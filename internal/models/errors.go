package models

import "errors"

// Error classes shared by every layer. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrAmbiguous  = ambiguous{}
	ErrValidation = errors.New("validation error")
	ErrUpstream   = errors.New("upstream failure")
	ErrStore      = errors.New("store failure")
)

// ambiguous is a NotFound: a title that matches several prompts does not
// resolve to one.
type ambiguous struct{}

func (ambiguous) Error() string        { return "ambiguous reference" }
func (ambiguous) Is(target error) bool { return target == ErrNotFound }
