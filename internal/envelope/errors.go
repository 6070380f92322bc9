package envelope

import (
	"errors"
	"fmt"
)

// Code classifies a TemplateError.
type Code string

const (
	// CodeMalformedJSON means the line is not a JSON object.
	CodeMalformedJSON Code = "malformed_json"
	// CodeMissingField means a required field is absent.
	CodeMissingField Code = "missing_field"
	// CodeInvalidType means a field is present with the wrong JSON type.
	CodeInvalidType Code = "invalid_type"
	// CodeAmbiguous means a response carries both result and error.
	CodeAmbiguous Code = "ambiguous"
)

// Sentinels for errors.Is. Every *TemplateError matches the one for its Code.
var (
	ErrMalformedJSON = errors.New("malformed JSON")
	ErrMissingField  = errors.New("missing field")
	ErrInvalidType   = errors.New("invalid field type")
	ErrAmbiguous     = errors.New("ambiguous response")
)

// TemplateError describes why a line is not a valid envelope.
type TemplateError struct {
	Code     Code
	Field    string // offending field, empty for CodeMalformedJSON
	Expected string // expected JSON type, only for CodeInvalidType
	Err      error  // underlying parse failure, only for CodeMalformedJSON
}

func (e *TemplateError) Error() string {
	switch e.Code {
	case CodeMalformedJSON:
		if e.Err != nil {
			return fmt.Sprintf("malformed JSON: %v", e.Err)
		}
		return "malformed JSON"
	case CodeMissingField:
		return fmt.Sprintf("missing field %q", e.Field)
	case CodeInvalidType:
		return fmt.Sprintf("field %q must be %s", e.Field, e.Expected)
	case CodeAmbiguous:
		return "response must carry exactly one of \"result\" and \"error\""
	default:
		return fmt.Sprintf("invalid envelope (%s)", e.Code)
	}
}

// Unwrap returns the underlying JSON error, if any.
func (e *TemplateError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's code.
func (e *TemplateError) Is(target error) bool {
	switch target {
	case ErrMalformedJSON:
		return e.Code == CodeMalformedJSON
	case ErrMissingField:
		return e.Code == CodeMissingField
	case ErrInvalidType:
		return e.Code == CodeInvalidType
	case ErrAmbiguous:
		return e.Code == CodeAmbiguous
	}
	return false
}

func missingField(field string) error {
	return &TemplateError{Code: CodeMissingField, Field: field}
}

func invalidType(field, expected string) error {
	return &TemplateError{Code: CodeInvalidType, Field: field, Expected: expected}
}
