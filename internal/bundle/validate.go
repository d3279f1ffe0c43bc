package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Validate parses raw as a bundle document. It fails with a MalformedInput
// error when raw is not a single JSON value and with a SchemaViolation when
// a required field is missing or has the wrong shape. No cryptographic or
// semantic checks happen here.
func Validate(raw []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &Error{Kind: KindMalformedInput, Msg: "invalid JSON", Err: err}
	}
	// reject trailing content after the first value
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, newError(KindMalformedInput, "", "unexpected data after JSON document")
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, newError(KindSchemaViolation, "", "document must be a JSON object, got %s", jsonType(doc))
	}

	var b Bundle
	var err error
	if b.BundleID, err = requireString(obj, "bundleId", true); err != nil {
		return nil, err
	}
	if b.CreatedAt, err = requireString(obj, "createdAt", false); err != nil {
		return nil, err
	}
	if b.Producer, err = requireString(obj, "producer", true); err != nil {
		return nil, err
	}

	rawPayload, present := obj["payload"]
	if !present {
		return nil, newError(KindSchemaViolation, "payload", "required field is missing")
	}
	payload, ok := rawPayload.(map[string]any)
	if !ok {
		return nil, newError(KindSchemaViolation, "payload", "must be an object, got %s", jsonType(rawPayload))
	}
	b.Payload = payload

	if b.Signature, err = requireString(obj, "signature", false); err != nil {
		return nil, err
	}
	if b.Checksum, err = requireString(obj, "checksum", false); err != nil {
		return nil, err
	}
	return &b, nil
}

func requireString(obj map[string]any, field string, nonEmpty bool) (string, error) {
	v, present := obj[field]
	if !present {
		return "", newError(KindSchemaViolation, field, "required field is missing")
	}
	s, ok := v.(string)
	if !ok {
		return "", newError(KindSchemaViolation, field, "must be a string, got %s", jsonType(v))
	}
	if nonEmpty && s == "" {
		return "", newError(KindSchemaViolation, field, "must not be empty")
	}
	return s, nil
}

// jsonType names the JSON type of a value produced by a UseNumber decoder.
func jsonType(v any) string {
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
