package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// NewRequest encodes a request line (without trailing newline). params may
// be any JSON-marshalable value or a json.RawMessage; nil encodes as {}.
func NewRequest(id, kind string, params any) ([]byte, error) {
	return build(id, kind, "params", params)
}

// NewNotification encodes a notification line with a null id.
func NewNotification(kind string, params any) ([]byte, error) {
	return build(nil, kind, "params", params)
}

// NewResponse encodes a successful response line.
func NewResponse(id, kind string, result any) ([]byte, error) {
	return build(id, kind, "result", result)
}

// NewErrorResponse encodes a failed response line.
func NewErrorResponse(id, kind string, errObj any) ([]byte, error) {
	return build(id, kind, "error", errObj)
}

func build(id any, kind, payloadField string, payload any) ([]byte, error) {
	line := []byte(`{}`)
	var err error
	if line, err = sjson.SetBytes(line, "id", id); err != nil {
		return nil, fmt.Errorf("failed to set id: %w", err)
	}
	if line, err = sjson.SetBytes(line, "kind", kind); err != nil {
		return nil, fmt.Errorf("failed to set kind: %w", err)
	}

	raw, err := payloadJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", payloadField, err)
	}
	if line, err = sjson.SetRawBytes(line, payloadField, raw); err != nil {
		return nil, fmt.Errorf("failed to set %s: %w", payloadField, err)
	}

	// Built lines must pass the same validation the hub applies.
	if _, err := Parse(line); err != nil {
		return nil, err
	}
	return line, nil
}

func payloadJSON(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte(`{}`), nil
	case json.RawMessage:
		if len(p) == 0 {
			return []byte(`{}`), nil
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}
