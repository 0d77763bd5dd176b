package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/ammar0144/recsync/pkg/logging"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug().Err(err).Msg("failed to write response")
	}
}

func writeData(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{"data": data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}
