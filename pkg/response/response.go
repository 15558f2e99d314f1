// Package response provides common HTTP response helpers.
package response

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/fracshare/trading/pkg/errors"
)

// WriteJSON writes a success payload.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError writes a structured error response based on the app error type.
func WriteError(w http.ResponseWriter, r *http.Request, err *apperrors.Error) {
	if w == nil || err == nil {
		return
	}
	payload := *err
	if reqID := RequestIDFromRequest(r); reqID != "" {
		payload.RequestID = reqID
	}
	WriteJSON(w, payload.HTTPStatus(), &payload)
}

// WriteErrorCode writes an error response using error code and message.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, code apperrors.Code, message string) {
	WriteError(w, r, apperrors.New(code, message))
}
