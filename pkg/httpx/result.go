package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Result is a completed HTTP exchange. Non-2xx statuses are ordinary results;
// interpreting them is left to the caller.
type Result struct {
	Status int
	// Body is the decoded JSON body (numbers as json.Number), the raw text
	// when the body is not JSON, or nil when it is empty.
	Body   any
	Raw    []byte
	Header http.Header
}

// OK reports a 200 response.
func (r *Result) OK() bool {
	return r != nil && r.Status == http.StatusOK
}

// Object returns the body as a JSON object, or nil.
func (r *Result) Object() map[string]any {
	if r == nil {
		return nil
	}
	obj, _ := r.Body.(map[string]any)
	return obj
}

// Field returns a top-level field of an object body.
func (r *Result) Field(key string) any {
	return r.Object()[key]
}

// String returns a top-level string field of an object body, or "".
func (r *Result) String(key string) string {
	s, _ := r.Field(key).(string)
	return s
}

func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}
