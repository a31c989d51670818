// Package web holds the JSON request and response helpers shared by the HTTP
// handlers, including the translation of the error taxonomy to status codes.
package web

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"librarium/internal/apperror"
	"librarium/internal/docstore"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrInvalidInput), errors.Is(err, apperror.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Error writes err as {"detail": ...}. Server-side failures are logged and
// their text is not exposed.
func Error(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := StatusFor(err)
	detail := apperror.Message(err)

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
		detail = http.StatusText(status)
	}

	JSON(w, status, ErrorBody{Detail: detail})
}

// Decode reads the JSON request body into v. Unknown fields are ignored.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation("request body is required")
		}
		return apperror.Validation("invalid request body: %v", err)
	}
	return nil
}

// PathID returns the URL parameter name as a canonical identity reference.
func PathID(r *http.Request, name string) (string, error) {
	return apperror.ParseID(chi.URLParam(r, name))
}
