// Package envelope validates the newline-delimited JSON messages exchanged
// between plugins.
//
// Three shapes share the same fields:
//
//	request       {"id":"1","kind":"irc/out","params":{...}}
//	response      {"id":"1","kind":"irc/out","result":{...}}   (or "error":{...})
//	notification  {"id":null,"kind":"irc/in","params":{...}}
//
// Parse inspects only what routing needs and never builds a partial
// envelope: a line either yields an *Envelope or a *TemplateError.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Shape is the wire form of an envelope.
type Shape int

const (
	// Request carries a string id and params.
	Request Shape = iota
	// Response carries a string id and exactly one of result/error.
	Response
	// Notification carries a null id and params.
	Notification
)

// String returns string representation of the shape
func (s Shape) String() string {
	switch s {
	case Request:
		return "request"
	case Response:
		return "response"
	case Notification:
		return "notification"
	default:
		return "unknown"
	}
}

// Envelope is an immutable view over one validated line.
type Envelope struct {
	raw    []byte
	shape  Shape
	id     string
	kind   string
	params gjson.Result
	result gjson.Result
	errObj gjson.Result
}

// Parse validates line and returns the envelope it encodes. The line may
// carry a trailing newline. The returned envelope keeps a reference to line,
// which must not be modified afterwards.
func Parse(line []byte) (*Envelope, error) {
	if !gjson.ValidBytes(line) {
		return nil, &TemplateError{Code: CodeMalformedJSON, Err: syntaxError(line)}
	}
	doc := gjson.ParseBytes(line)
	if !doc.IsObject() {
		return nil, &TemplateError{
			Code: CodeMalformedJSON,
			Err:  fmt.Errorf("top-level value is %s, not an object", typeName(doc)),
		}
	}

	fields := gjson.GetManyBytes(line, "id", "kind", "params", "result", "error")
	id, kind, params, result, errField := fields[0], fields[1], fields[2], fields[3], fields[4]

	env := &Envelope{raw: line}
	switch {
	case id.Exists() && id.Type == gjson.Null:
		env.shape = Notification
	case result.Exists() || errField.Exists():
		env.shape = Response
	default:
		env.shape = Request
	}

	if env.shape != Notification {
		if !id.Exists() {
			return nil, missingField("id")
		}
		if id.Type != gjson.String {
			return nil, invalidType("id", "a string")
		}
		env.id = id.String()
	}

	if !kind.Exists() {
		return nil, missingField("kind")
	}
	if kind.Type != gjson.String {
		return nil, invalidType("kind", "a string")
	}
	env.kind = kind.String()

	if env.shape == Response {
		if result.Exists() && errField.Exists() {
			return nil, &TemplateError{Code: CodeAmbiguous, Field: "result/error"}
		}
		if result.Exists() && !result.IsObject() {
			return nil, invalidType("result", "an object")
		}
		if errField.Exists() && !errField.IsObject() {
			return nil, invalidType("error", "an object")
		}
		env.result = result
		env.errObj = errField
		return env, nil
	}

	if !params.Exists() {
		return nil, missingField("params")
	}
	if !params.IsObject() {
		return nil, invalidType("params", "an object")
	}
	env.params = params
	return env, nil
}

// Raw returns the line the envelope was parsed from.
func (e *Envelope) Raw() []byte { return e.raw }

// Shape returns the wire form.
func (e *Envelope) Shape() Shape { return e.shape }

// ID returns the request/response id; empty for notifications.
func (e *Envelope) ID() string { return e.id }

// Kind returns the routing topic.
func (e *Envelope) Kind() string { return e.kind }

// Params returns the raw params object, nil for responses.
func (e *Envelope) Params() json.RawMessage { return rawOf(e.params) }

// Result returns the raw result object, nil unless this is a successful response.
func (e *Envelope) Result() json.RawMessage { return rawOf(e.result) }

// Error returns the raw error object, nil unless this is a failed response.
func (e *Envelope) Error() json.RawMessage { return rawOf(e.errObj) }

// Param looks up a value inside params using gjson path syntax.
func (e *Envelope) Param(path string) gjson.Result {
	return e.params.Get(path)
}

func rawOf(r gjson.Result) json.RawMessage {
	if !r.Exists() {
		return nil
	}
	return json.RawMessage(r.Raw)
}

// syntaxError recovers a descriptive error for a line gjson rejected.
func syntaxError(line []byte) error {
	var v any
	if err := json.Unmarshal(line, &v); err != nil {
		return err
	}
	return fmt.Errorf("invalid JSON")
}

func typeName(r gjson.Result) string {
	switch r.Type {
	case gjson.Null:
		return "null"
	case gjson.False, gjson.True:
		return "a boolean"
	case gjson.Number:
		return "a number"
	case gjson.String:
		return "a string"
	default:
		if r.IsArray() {
			return "an array"
		}
		return "an object"
	}
}
