package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/faucetdb/keygate/internal/model"
)

// writeError writes the standard JSON error envelope. Handlers have their
// own copy; importing them here would create a cycle.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
