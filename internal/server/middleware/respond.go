package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/nikoai/niko/internal/model"
)

func writeError(w http.ResponseWriter, status int, message string) {
	writeErrorBody(w, status, model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}

func writeErrorBody(w http.ResponseWriter, status int, body model.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
