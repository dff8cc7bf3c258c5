package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

const maxBodyBytes = 10 * 1024 * 1024

func formatBodyLimit(n int64) string {
	const mb = 1024 * 1024
	if n <= 0 {
		return "0MB"
	}
	value := n / mb
	if value <= 0 {
		value = 1
	}
	return strconv.FormatInt(value, 10) + "MB"
}

// readFields decodes the request body as a JSON object. A proxy envelope
// carrying the payload under "body" (as a string or an object) is unwrapped.
// An empty body yields an empty object.
func readFields(c *gin.Context) (map[string]json.RawMessage, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: request body exceeds %s", appErr.ErrInvalid, formatBodyLimit(maxBodyBytes))
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	inner, ok := fields["body"]
	if !ok {
		return fields, nil
	}
	inner = bytes.TrimSpace(inner)
	if len(inner) > 0 && inner[0] == '"' {
		var text string
		if err := json.Unmarshal(inner, &text); err != nil {
			return nil, fmt.Errorf("decode request body: %w", err)
		}
		inner = []byte(text)
	}
	return decodeObject(inner)
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	fields := map[string]json.RawMessage{}
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode request body: %w", err)
	}
	return fields, nil
}

// stringField returns the string under key. Absent, null and "" all read as
// empty; other JSON types are an error.
func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	return s, nil
}

// payloadField reads an image field. Falsy JSON (null, false, 0, "", [] and
// {}) reads as absent so the next field is tried; any other non-string value
// is an error.
func payloadField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isFalsy(raw) {
		return "", nil
	}
	return stringField(fields, key)
}

func isFalsy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	switch string(trimmed) {
	case "", "null", "false", `""`, "[]", "{}":
		return true
	}
	if trimmed[0] == '[' || trimmed[0] == '{' {
		var v interface{}
		if err := json.Unmarshal(trimmed, &v); err == nil {
			switch t := v.(type) {
			case []interface{}:
				return len(t) == 0
			case map[string]interface{}:
				return len(t) == 0
			}
		}
		return false
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err == nil {
		f, err := n.Float64()
		return err == nil && f == 0
	}
	return false
}

// idField echoes a string id as is and any other non-null JSON value as its
// literal text.
func idField(fields map[string]json.RawMessage, key string) *string {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &s
	}
	text := string(bytes.TrimSpace(raw))
	return &text
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
