package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// userIDHeader carries the caller's identity, set by the auth proxy in
// front of this service.
const userIDHeader = "X-USERID"

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, reason string) {
	respondJSON(w, status, map[string]string{"status": "error", "reason": reason})
}

// userIDFromRequest extracts and validates the caller's user id.
func userIDFromRequest(r *http.Request) (string, bool) {
	id := r.Header.Get(userIDHeader)
	if id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
