package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"time"
)

// ErrorType is the category an error is reported under. It picks the HTTP
// status, the default client message and the error-count metric label.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypePersistence ErrorType = "persistence"
	ErrorTypeNetwork     ErrorType = "network"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeExternal    ErrorType = "external"
)

// ErrorSeverity decides the log level and whether a stack is kept.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"      // caller mistake, service unaffected
	SeverityMedium   ErrorSeverity = "medium"   // degraded answer for this request
	SeverityHigh     ErrorSeverity = "high"     // a subsystem failed
	SeverityCritical ErrorSeverity = "critical" // panic or process-level fault
)

type typeInfo struct {
	status  int
	message string
}

var typeTable = map[ErrorType]typeInfo{
	ErrorTypeValidation:  {http.StatusBadRequest, "The request contains invalid data. Please check your input and try again."},
	ErrorTypeNotFound:    {http.StatusNotFound, "The requested resource was not found."},
	ErrorTypeRateLimit:   {http.StatusTooManyRequests, "Too many requests. Please wait before trying again."},
	ErrorTypePersistence: {http.StatusInternalServerError, "Saving or loading pool state failed. The in-memory pool is unchanged."},
	ErrorTypeNetwork:     {http.StatusServiceUnavailable, "A network error occurred. Please try again."},
	ErrorTypeTimeout:     {http.StatusGatewayTimeout, "The request timed out. Please try again."},
	ErrorTypeExternal:    {http.StatusBadGateway, "An upstream feed failed. Please try again later."},
}

var internalInfo = typeInfo{http.StatusInternalServerError, "An unexpected error occurred. Please try again."}

func infoFor(t ErrorType) typeInfo {
	if info, ok := typeTable[t]; ok {
		return info
	}
	return internalInfo
}

// AppError is an error with everything the API needs to answer and log it.
type AppError struct {
	Type        ErrorType     `json:"type"`
	Code        string        `json:"code"`
	Message     string        `json:"message"`
	Details     string        `json:"details,omitempty"`
	Severity    ErrorSeverity `json:"severity"`
	Timestamp   time.Time     `json:"timestamp"`
	RequestID   string        `json:"request_id,omitempty"`
	UserMessage string        `json:"user_message,omitempty"`
	Cause       error         `json:"-"`
	StackTrace  string        `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s:%s] %s: %s", e.Type, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// StatusCode is the HTTP status the error is answered with.
func (e *AppError) StatusCode() int {
	return infoFor(e.Type).status
}

// ClientMessage is the text put in the response body.
func (e *AppError) ClientMessage() string {
	if e.UserMessage != "" {
		return e.UserMessage
	}
	return infoFor(e.Type).message
}

// New creates an AppError of medium severity.
func New(errorType ErrorType, code string, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Severity:  SeverityMedium,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap creates an AppError around err; err's text becomes the details.
func Wrap(err error, errorType ErrorType, code string, message string) *AppError {
	appErr := New(errorType, code, message)
	appErr.Cause = err
	if err != nil {
		appErr.Details = err.Error()
	}
	return appErr
}

// WithSeverity sets the severity. High and critical errors keep the stack
// of the goroutine that raised them.
func (e *AppError) WithSeverity(severity ErrorSeverity) *AppError {
	e.Severity = severity
	if (severity == SeverityHigh || severity == SeverityCritical) && e.StackTrace == "" {
		e.StackTrace = captureStackTrace()
	}
	return e
}

// WithUserMessage replaces the default client message.
func (e *AppError) WithUserMessage(message string) *AppError {
	e.UserMessage = message
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ValidationError reports a bad request; message is shown to the client.
func ValidationError(code, message string) *AppError {
	return New(ErrorTypeValidation, code, message).
		WithSeverity(SeverityLow).
		WithUserMessage(message)
}

// NotFoundError reports an unknown resource such as a source or action.
func NotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource)).
		WithSeverity(SeverityLow).
		WithUserMessage(fmt.Sprintf("%s not found.", resource))
}

// PersistenceError reports a failed snapshot or restore.
func PersistenceError(operation string, cause error) *AppError {
	return Wrap(cause, ErrorTypePersistence, "PERSISTENCE_ERROR", fmt.Sprintf("Pool %s failed", operation)).
		WithSeverity(SeverityHigh)
}

func RateLimitError(resource string) *AppError {
	return New(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", fmt.Sprintf("Rate limit exceeded for %s", resource))
}

func InternalError(message string, cause error) *AppError {
	return Wrap(cause, ErrorTypeInternal, "INTERNAL_ERROR", message).
		WithSeverity(SeverityHigh)
}
