// Package httputil holds the JSON response helpers and middleware shared by
// the HTTP Lambdas.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/fpang/image-analysis-pipeline/internal/apperr"
)

// CORSAllowHeaders is the Access-Control-Allow-Headers value of every response.
const CORSAllowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token"

// RespondJSON writes data as a JSON body with the given status.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to write response body")
	}
}

// Error sends a JSON error response. The clientMsg is returned to the
// caller; internalDetails are logged server-side only.
func Error(w http.ResponseWriter, status int, clientMsg string, internalDetails ...string) {
	if len(internalDetails) > 0 {
		log.Error().
			Int("status", status).
			Str("clientMsg", clientMsg).
			Strs("internalDetails", internalDetails).
			Msg("HTTP error with internal details")
	}
	RespondJSON(w, status, map[string]string{"message": clientMsg})
}

// WriteError maps err through the apperr taxonomy. Details of 5xx errors
// are logged, never returned.
func WriteError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		Error(w, status, apperr.ClientMessage(err), err.Error())
		return
	}
	Error(w, status, apperr.ClientMessage(err))
}
