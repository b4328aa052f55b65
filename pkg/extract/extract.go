// Package extract turns raw JSON payloads into an ordered list of loosely-typed
// records. Three envelope shapes are accepted: a bare array, an object carrying
// a "records" or "data" array, and a single object.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// Record is one decoded JSON value. Objects decode to map[string]any, arrays to
// []any, numbers to json.Number so the original digits survive re-encoding.
type Record = any

// Envelope keys checked, in order, when the payload is an object.
var envelopeKeys = []string{"records", "data"}

// Extract decodes raw and returns its records in source order.
// Every failure is a *MalformedPayloadError.
func Extract(raw []byte) ([]Record, error) {
	if len(raw) == 0 {
		return nil, &MalformedPayloadError{Kind: ErrEmptyPayload, Detail: "payload has no bytes"}
	}
	if !utf8.Valid(raw) {
		return nil, malformed(ErrEncoding, nil, "invalid byte sequence at offset %d", invalidOffset(raw))
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, &MalformedPayloadError{Kind: ErrEmptyPayload, Detail: "payload contains only whitespace"}
	}

	value, err := decode(text)
	if err != nil {
		return nil, malformed(ErrSyntax, err, "%v", err)
	}

	records, err := dispatch(value)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &MalformedPayloadError{Kind: ErrNoRecords}
	}
	return records, nil
}

func dispatch(value any) ([]Record, error) {
	switch v := value.(type) {
	case []any:
		if len(v) == 0 {
			return nil, &MalformedPayloadError{Kind: ErrNoRecords, Detail: "top-level array is empty"}
		}
		return v, nil
	case map[string]any:
		for _, key := range envelopeKeys {
			// A present but non-array value falls through to the whole-object case.
			if nested, ok := v[key].([]any); ok {
				return nested, nil
			}
		}
		return []Record{v}, nil
	default:
		return nil, malformed(ErrUnsupportedShape, nil, "expected object or array, got %s", JSONType(value))
	}
}

func decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return value, nil
}

// JSONType names the JSON type of a value produced by a UseNumber decoder.
func JSONType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case json.Number, float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "unknown"
	}
}

// RecordType returns the first record's string "type" field, or fallback.
func RecordType(records []Record, fallback string) string {
	if len(records) == 0 {
		return fallback
	}
	obj, ok := records[0].(map[string]any)
	if !ok {
		return fallback
	}
	if t, ok := obj["type"].(string); ok {
		return t
	}
	return fallback
}

func invalidOffset(raw []byte) int {
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return bytes.IndexRune(raw, utf8.RuneError)
}
