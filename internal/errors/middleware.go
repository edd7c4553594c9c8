package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Shugur-Network/proxypool/internal/logger"
	"github.com/Shugur-Network/proxypool/internal/metrics"
	"go.uber.org/zap"
)

// statusFail is the status field of every error body.
const statusFail = "FAIL"

// ErrorBody is the error object inside an ErrorResponse.
type ErrorBody struct {
	Type      ErrorType `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorResponse is the JSON body of every failed API call. Status is always
// "FAIL" so clients can branch on it the same way as on success bodies.
type ErrorResponse struct {
	Status string    `json:"status"`
	Error  ErrorBody `json:"error"`
}

// ErrorMiddleware turns handler errors and panics into logged, counted JSON
// answers.
type ErrorMiddleware struct {
	logger *zap.Logger
}

func NewErrorMiddleware() *ErrorMiddleware {
	return &ErrorMiddleware{
		logger: logger.New("error_middleware"),
	}
}

// HandleError classifies err, logs it and writes the JSON error response.
func (em *ErrorMiddleware) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := Classify(err)
	if requestID := getRequestID(r); requestID != "" {
		appErr = appErr.WithRequestID(requestID)
	}

	em.logError(appErr, r)
	metrics.IncrementErrorCount(string(appErr.Type))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode())
	body := ErrorResponse{
		Status: statusFail,
		Error: ErrorBody{
			Type:      appErr.Type,
			Code:      appErr.Code,
			Message:   appErr.ClientMessage(),
			Timestamp: appErr.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			RequestID: appErr.RequestID,
		},
	}
	if encodeErr := json.NewEncoder(w).Encode(body); encodeErr != nil {
		em.logger.Error("Failed to encode error response", zap.Error(encodeErr))
	}
}

func (em *ErrorMiddleware) logError(err *AppError, r *http.Request) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("error_code", err.Code),
		zap.String("severity", string(err.Severity)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote_addr", r.RemoteAddr),
	}
	if source := r.URL.Query().Get("source"); source != "" {
		fields = append(fields, zap.String("source", source))
	}
	if err.RequestID != "" {
		fields = append(fields, zap.String("request_id", err.RequestID))
	}
	if err.Details != "" {
		fields = append(fields, zap.String("details", err.Details))
	}
	if err.StackTrace != "" {
		fields = append(fields, zap.String("stack_trace", err.StackTrace))
	}

	switch err.Severity {
	case SeverityLow:
		em.logger.Info(err.Message, fields...)
	case SeverityMedium:
		em.logger.Warn(err.Message, fields...)
	default:
		em.logger.Error(err.Message, fields...)
	}
}

// getRequestID extracts the request ID from the context or the header.
func getRequestID(r *http.Request) string {
	if id := logger.RequestID(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(RequestIDHeader)
}

// RecoveryMiddleware answers a panicking handler with a critical internal
// error. http.ErrAbortHandler is re-raised.
func (em *ErrorMiddleware) RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}
			err, ok := recovered.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", recovered)
			}
			em.HandleError(w, r, Wrap(err, ErrorTypeInternal, "PANIC_RECOVERED", "An unexpected error occurred").
				WithSeverity(SeverityCritical))
		}()

		next.ServeHTTP(w, r)
	})
}
