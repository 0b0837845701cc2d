// internal/web/respond.go
//
// JSON response helpers.  Error bodies carry a generic message only;
// internal detail stays in the logs.
package web

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.S().Errorw("encode response", "error", err)
	}
}

// writeError emits the structured error shape every API consumer
// expects.
func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
