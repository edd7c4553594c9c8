package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/Shugur-Network/proxypool/internal/relaypool"
	"github.com/gorilla/websocket"
)

// Classify converts any error into an AppError. Pool sentinels map to their
// HTTP-facing types; anything unknown is an internal error.
func Classify(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	switch {
	case stderrors.Is(err, relaypool.ErrNoSnapshot):
		return Wrap(err, ErrorTypeNotFound, "NO_SNAPSHOT", "No saved state for source").
			WithSeverity(SeverityLow).
			WithUserMessage("No saved state exists for this source.")
	case stderrors.Is(err, relaypool.ErrPersistence):
		return PersistenceError("persistence", err)
	case stderrors.Is(err, relaypool.ErrNotFound):
		return Wrap(err, ErrorTypeNotFound, "NOT_FOUND", "Unknown source or relay").
			WithSeverity(SeverityLow).
			WithUserMessage(err.Error())
	case stderrors.Is(err, relaypool.ErrMalformed):
		return Wrap(err, ErrorTypeValidation, "MALFORMED_ENTRY", "Malformed relay entry").
			WithSeverity(SeverityLow).
			WithUserMessage(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrorTypeTimeout, "TIMEOUT", "Operation timed out")
	default:
		return InternalError("An internal error occurred", err)
	}
}

// WebSocketError creates an error for stats feed connection issues
func WebSocketError(operation string, cause error) *AppError {
	var code string
	var severity ErrorSeverity

	switch {
	case websocket.IsCloseError(cause, websocket.CloseNormalClosure):
		code, severity = "WS_NORMAL_CLOSURE", SeverityLow
	case websocket.IsCloseError(cause, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		code, severity = "WS_ABNORMAL_CLOSURE", SeverityMedium
	case websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		code, severity = "WS_UNEXPECTED_CLOSURE", SeverityMedium
	default:
		code, severity = "WS_ERROR", SeverityMedium
	}

	return Wrap(cause, ErrorTypeNetwork, code, fmt.Sprintf("WebSocket %s failed", operation)).
		WithSeverity(severity)
}
