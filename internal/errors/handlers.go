package errors

import (
	"net/http"
	"sync"

	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

// HandlerFunc is a function type that can return an error
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handler wraps HandlerFunc with automatic error handling
type Handler struct {
	errorMiddleware *ErrorMiddleware
	handlerFunc     HandlerFunc
}

// NewHandler creates a new error-aware handler
func NewHandler(handlerFunc HandlerFunc) *Handler {
	return &Handler{
		errorMiddleware: GetErrorMiddleware(),
		handlerFunc:     handlerFunc,
	}
}

// ServeHTTP implements the http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.handlerFunc(w, r); err != nil {
		h.errorMiddleware.HandleError(w, r, err)
	}
}

// WrapHandler wraps an error-returning handler function.
func WrapHandler(handlerFunc func(w http.ResponseWriter, r *http.Request) error) http.Handler {
	return NewHandler(handlerFunc)
}

// RequestIDMiddleware keeps a client-supplied X-Request-ID or assigns a new
// UUID, stores it in the request context and echoes it in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

var (
	globalErrorMiddleware *ErrorMiddleware
	globalOnce            sync.Once
)

// GetErrorMiddleware returns the global error middleware instance. It is
// built on first use so it picks up the configured logger.
func GetErrorMiddleware() *ErrorMiddleware {
	globalOnce.Do(func() {
		globalErrorMiddleware = NewErrorMiddleware()
	})
	return globalErrorMiddleware
}

// HandleHTTPError is a convenience function for handling HTTP errors
func HandleHTTPError(w http.ResponseWriter, r *http.Request, err error) {
	GetErrorMiddleware().HandleError(w, r, err)
}

// RecoveryMiddleware returns a middleware that recovers from panics
func RecoveryMiddleware(next http.Handler) http.Handler {
	return GetErrorMiddleware().RecoveryMiddleware(next)
}
