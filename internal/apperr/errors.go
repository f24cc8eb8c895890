// Package apperr defines gatekeep's application error type and the
// codes the Admin Surface and proxy handlers translate into HTTP
// responses.
package apperr

import (
	"fmt"
	"net/http"
)

// Code identifies the kind of failure an AppError represents.
type Code string

const (
	CodeAuthFailure      Code = "AUTH_FAILURE"
	CodeForbiddenByHost  Code = "FORBIDDEN_BY_HOST"
	CodeConflictOnCreate Code = "CONFLICT_ON_CREATE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeBadRequest       Code = "BAD_REQUEST"
	CodeUpstreamError    Code = "UPSTREAM_ERROR"
	CodeDependencyError  Code = "DEPENDENCY_ERROR"
	CodeFatal            Code = "FATAL"
)

// AppError is the error type every handler in this repo returns for a
// failure that should reach the caller as a structured response.
type AppError struct {
	Code       Code   `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body written for an AppError.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  Code   `json:"code,omitempty"`
}

func statusForCode(code Code) int {
	switch code {
	case CodeAuthFailure:
		return http.StatusUnauthorized
	case CodeForbiddenByHost:
		return http.StatusNotFound
	case CodeConflictOnCreate:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUpstreamError:
		return http.StatusBadGateway
	case CodeDependencyError:
		return http.StatusServiceUnavailable
	case CodeFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// New builds an AppError with the status code implied by its Code.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusForCode(code)}
}

// NewWithDetails is New plus a details string. ErrorHandler logs the
// details; ToResponse leaves them out of the body sent to the caller.
func NewWithDetails(code Code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusForCode(code)}
}

// Wrap annotates err's message into a new AppError of the given code.
func Wrap(code Code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

// ToResponse converts an AppError into its wire representation.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code}
}

func AuthFailure(message string) *AppError      { return New(CodeAuthFailure, message) }
func ForbiddenByHost(message string) *AppError   { return New(CodeForbiddenByHost, message) }
func ConflictOnCreate(message string) *AppError  { return New(CodeConflictOnCreate, message) }
func NotFound(message string) *AppError         { return New(CodeNotFound, message) }
func BadRequest(message string) *AppError        { return New(CodeBadRequest, message) }
func UpstreamError(message string, err error) *AppError {
	return Wrap(CodeUpstreamError, message, err)
}
func DependencyError(message string, err error) *AppError {
	return Wrap(CodeDependencyError, message, err)
}
func Fatal(message string, err error) *AppError { return Wrap(CodeFatal, message, err) }
