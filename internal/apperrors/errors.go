// Package apperrors provides standardized error handling for the hub.
//
// Error Structure:
//   - Code: Machine-readable error identifier (e.g., "CAPACITY_EXCEEDED")
//   - Message: Human-readable error message
//   - Details: Optional additional context (wrapped errors)
//   - StatusCode: HTTP status code
//
// Usage:
//
//	return apperrors.SessionConflict(username)
//	return apperrors.Wrap(apperrors.ErrCodeOrchestratorUnavailable, "start container failed", err)
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized application error with HTTP context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON/page-model shape for a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes, one per disposition in the error handling design.
const (
	ErrCodeAuthFailure             = "AUTH_FAILURE"
	ErrCodeCapacityExceeded        = "CAPACITY_EXCEEDED"
	ErrCodeOrchestratorUnavailable = "ORCHESTRATOR_UNAVAILABLE"
	ErrCodeContainerLaunchFailed   = "CONTAINER_LAUNCH_FAILED"
	ErrCodeSessionConflict         = "SESSION_CONFLICT"
	ErrCodeProxyReloadFailed       = "PROXY_RELOAD_FAILED"
	ErrCodeNotFound                = "NOT_FOUND"
	ErrCodeBadRequest              = "BAD_REQUEST"
	ErrCodeInternalServer          = "INTERNAL_SERVER_ERROR"
	ErrCodeDatabaseError           = "DATABASE_ERROR"
)

// New creates an AppError with no details.
func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithDetails creates an AppError carrying extra debugging context.
func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

// Wrap attaches an underlying error's message as Details.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusForCode(code string) int {
	switch code {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeAuthFailure, ErrCodeCapacityExceeded:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeSessionConflict:
		return http.StatusConflict
	case ErrCodeOrchestratorUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeContainerLaunchFailed, ErrCodeInternalServer, ErrCodeDatabaseError, ErrCodeProxyReloadFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts an AppError to its wire/page representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Code,
		Message: e.Message,
		Code:    e.Code,
		Details: e.Details,
	}
}

// Convenience constructors, one per disposition in §7.

func AuthFailure() *AppError {
	return New(ErrCodeAuthFailure, "invalid username or password")
}

func CapacityExceeded(max int) *AppError {
	return New(ErrCodeCapacityExceeded, fmt.Sprintf("session capacity reached (max %d)", max))
}

func OrchestratorUnavailable(err error) *AppError {
	return Wrap(ErrCodeOrchestratorUnavailable, "orchestrator backend is unavailable", err)
}

func ContainerLaunchFailed(name string, err error) *AppError {
	return Wrap(ErrCodeContainerLaunchFailed, fmt.Sprintf("container %s failed to start", name), err)
}

func SessionConflict(user string) *AppError {
	return New(ErrCodeSessionConflict, fmt.Sprintf("a session already exists for %s", user))
}

func ProxyReloadFailed(err error) *AppError {
	return Wrap(ErrCodeProxyReloadFailed, "proxy reload failed", err)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message)
}

func DatabaseError(err error) *AppError {
	return Wrap(ErrCodeDatabaseError, "database operation failed", err)
}

func InternalServer(message string) *AppError {
	return New(ErrCodeInternalServer, message)
}
