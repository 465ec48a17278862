// Package errors provides the gateway's closed error-code taxonomy.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, exactly the closed set recognized by clients.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidArgs       = "INVALID_ARGS"
	CodeInvalidPath       = "INVALID_PATH"
	CodeForbiddenPath     = "FORBIDDEN_PATH"
	CodeDirectoryNotFound = "DIRECTORY_NOT_FOUND"
	CodeNotADirectory     = "NOT_A_DIRECTORY"
	CodePermissionDenied  = "PERMISSION_DENIED"
	CodeSessionNotFound   = "SESSION_NOT_FOUND"
	CodeSessionError      = "SESSION_ERROR"
	CodeClaudeError       = "CLAUDE_ERROR"
	CodeTruncatedOutput   = "TRUNCATED_OUTPUT"
	CodeAgentExitNonzero  = "AGENT_EXIT_NONZERO"
	CodeEmptyOutput       = "EMPTY_OUTPUT"
	CodeCommandFailed     = "COMMAND_FAILED"
	CodeRoutingError      = "ROUTING_ERROR"
	CodeHandlerError      = "HANDLER_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// codeHTTPStatus maps error codes to a representative HTTP status, used only by
// the diagnostic HTTP surface (internal/httpapi); the primary client protocol
// carries codes in the error envelope's `data.code`, not as HTTP statuses.
var codeHTTPStatus = map[string]int{
	CodeInvalidRequest:    http.StatusBadRequest,
	CodeInvalidArgs:       http.StatusBadRequest,
	CodeInvalidPath:       http.StatusBadRequest,
	CodeForbiddenPath:     http.StatusForbidden,
	CodeDirectoryNotFound: http.StatusNotFound,
	CodeNotADirectory:     http.StatusBadRequest,
	CodePermissionDenied:  http.StatusForbidden,
	CodeSessionNotFound:   http.StatusNotFound,
	CodeSessionError:      http.StatusConflict,
	CodeClaudeError:       http.StatusBadGateway,
	CodeTruncatedOutput:   http.StatusBadGateway,
	CodeAgentExitNonzero:  http.StatusBadGateway,
	CodeEmptyOutput:       http.StatusBadGateway,
	CodeCommandFailed:     http.StatusBadGateway,
	CodeRoutingError:      http.StatusInternalServerError,
	CodeHandlerError:      http.StatusInternalServerError,
	CodeInternalError:     http.StatusInternalServerError,
}

// AppError represents a gateway error carrying one of the closed codes above.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: codeHTTPStatus[code]}
}

// InvalidRequest reports a malformed inbound envelope or unknown message type.
func InvalidRequest(message string) *AppError { return newAppError(CodeInvalidRequest, message) }

// InvalidArgs reports an Argument Builder rejection (metacharacter, unknown flag, bad mode).
func InvalidArgs(message string) *AppError { return newAppError(CodeInvalidArgs, message) }

// InvalidPath reports a setWorkingDirectory path that is not absolute or contains `..`/`~`.
func InvalidPath(message string) *AppError { return newAppError(CodeInvalidPath, message) }

// ForbiddenPath reports a setWorkingDirectory path outside the safe root or into a system path.
func ForbiddenPath(message string) *AppError { return newAppError(CodeForbiddenPath, message) }

// DirectoryNotFound reports a setWorkingDirectory path that does not exist.
func DirectoryNotFound(message string) *AppError { return newAppError(CodeDirectoryNotFound, message) }

// NotADirectory reports a setWorkingDirectory path that exists but is not a directory.
func NotADirectory(message string) *AppError { return newAppError(CodeNotADirectory, message) }

// PermissionDenied reports a denied permission cycle outcome.
func PermissionDenied(message string) *AppError { return newAppError(CodePermissionDenied, message) }

// SessionNotFound reports a reference to a session-id the Session Manager does not know.
func SessionNotFound(sessionID string) *AppError {
	return newAppError(CodeSessionNotFound, fmt.Sprintf("session %q not found", sessionID))
}

// SessionError reports a session-state conflict (inactive, mapping conflict).
func SessionError(message string) *AppError { return newAppError(CodeSessionError, message) }

// ClaudeError reports a failure surfaced by the Agent CLI itself.
func ClaudeError(message string) *AppError { return newAppError(CodeClaudeError, message) }

// TruncatedOutput reports a Stream-JSON Parser salvage failure (zero records recovered).
func TruncatedOutput(message string) *AppError { return newAppError(CodeTruncatedOutput, message) }

// AgentExitNonzero reports a non-zero Agent CLI exit code, with stderr attached via Details.
func AgentExitNonzero(exitCode int, stderr string) *AppError {
	e := newAppError(CodeAgentExitNonzero, fmt.Sprintf("agent exited with code %d", exitCode))
	e.Details = map[string]any{"exitCode": exitCode, "stderr": stderr}
	return e
}

// EmptyOutput reports a turn whose child process produced no stdout at all.
func EmptyOutput() *AppError {
	return newAppError(CodeEmptyOutput, "agent produced no output")
}

// CommandFailed reports a local meta-command (claudeCommand status/test) failure.
func CommandFailed(message string) *AppError { return newAppError(CodeCommandFailed, message) }

// RoutingError reports a Routing Map inconsistency.
func RoutingError(message string) *AppError { return newAppError(CodeRoutingError, message) }

// HandlerError reports a handler panic/exception caught at the dispatch boundary.
func HandlerError(message string) *AppError { return newAppError(CodeHandlerError, message) }

// InternalError wraps an unexpected underlying error as a gateway-fatal condition.
func InternalError(message string, err error) *AppError {
	e := newAppError(CodeInternalError, message)
	e.Err = err
	return e
}

// Wrap wraps an existing error with additional context, preserving an AppError's code.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Details:    appErr.Details,
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return InternalError(message, err)
}

// Code returns the error's code, or CodeInternalError if it is not an AppError.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// GetHTTPStatus returns the HTTP status code for an error, for the diagnostic HTTP surface only.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
