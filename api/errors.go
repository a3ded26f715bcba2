package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// maxRequestBodySize bounds JSON request bodies.
const maxRequestBodySize = 64 << 10

const errNoData = "No data provided"

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Timestamp: timestamp()})
}

// decodeJSON reads a JSON object of type T from the request body. A missing,
// empty or malformed body is answered with 400 "No data provided" and ok is
// false.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, maxSize int64) (v T, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, errNoData)
		}
		return v, false
	}
	return v, true
}
