package core

import (
	"encoding/json"
	"errors"
	"net/http"

	"clinicbill/internal/types"
)

// APIErrorResponse is the standard envelope for all error API responses.
// The wire shape is deliberately flat -- a single human-readable error line --
// because the webhook provider and the dashboard both consume it that way.
type APIErrorResponse struct {
	Error string `json:"error"`
}

// JSON writes a JSON response with the given status code and data.
// It sets the Content-Type header, marshals the data, and writes the response.
// If marshalling fails, it falls back to a 500 error response.
func JSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		// Best-effort write; if this also fails, there is nothing more we can do.
		_, _ = w.Write([]byte(`{"error":"failed to marshal response"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response to the client. It inspects the error chain:
//   - If the error is (or wraps) a *types.AppError, it uses its Code to
//     determine the HTTP status and the Message as the error line.
//   - If the error is a generic (non-AppError) error, it returns a 500
//     Internal Server Error with a safe default message.
//
// Internal error details (wrapped errors) are never exposed to the client.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		JSON(w, r, appErr.HTTPStatus(), APIErrorResponse{Error: appErr.Message})
		return
	}

	JSON(w, r, http.StatusInternalServerError, APIErrorResponse{
		Error: "an unexpected error occurred",
	})
}
