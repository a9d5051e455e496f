package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteReason writes the {"reason": ...} error body the Deadbolt service
// uses for every failure.
func WriteReason(w http.ResponseWriter, code int, reason string) {
	WriteJSON(w, code, map[string]string{"reason": reason})
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// Responses here carry session tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ReadJSON decodes a JSON request body into v. Numbers in untyped fields
// decode as json.Number.
func ReadJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("httpx: decode request body: %w", err)
	}
	return nil
}
