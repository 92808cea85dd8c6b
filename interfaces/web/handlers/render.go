// Package handlers provides the HTTP endpoints of the webhook receiver and the admin API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"drivesync/domain/contracts"
	"drivesync/logging"
)

const maxBodyBytes = 1 << 20

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// ErrorView is the body of every error response.
type ErrorView struct {
	Error string `json:"error"`
}

// RequestID attaches a request id to the context so WithContext loggers pick it up.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))
	})
}

// RenderJSON writes v as a JSON response.
func RenderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Default().Error("Failed to encode response", "error", err)
	}
}

// RenderError writes an error response.
func RenderError(w http.ResponseWriter, status int, msg string) {
	RenderJSON(w, status, ErrorView{Error: msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, contracts.ErrNotFound), errors.Is(err, contracts.ErrCheckpointMissing):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrTenantInactive):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrUnauthorized):
		return http.StatusBadGateway
	case errors.Is(err, contracts.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()

	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
