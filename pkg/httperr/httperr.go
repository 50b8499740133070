// Package httperr writes JSON responses and errors in the {"detail": ...}
// shape used by every endpoint.
package httperr

import (
	"encoding/json"
	"net/http"
)

// Response is the body of every error reply
type Response struct {
	Detail string `json:"detail"`
}

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Write writes an error reply
func Write(w http.ResponseWriter, status int, detail string) {
	WriteJSON(w, status, Response{Detail: detail})
}
