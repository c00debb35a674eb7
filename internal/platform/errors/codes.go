// Package errors provides structured domain errors for rockettree services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Request validation
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeUserIDRequired  Code = "USER_ID_REQUIRED"
	CodeInvalidSinceUTC Code = "INVALID_SINCE_UTC"
	CodeInvalidLimit    Code = "INVALID_LIMIT"

	// Auth
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeTokenExpired    Code = "TOKEN_EXPIRED"
	CodeForbidden       Code = "FORBIDDEN"

	// Tasks
	CodeTaskTitleEmpty        Code = "TASK_TITLE_EMPTY"
	CodeTaskInvalidDepth      Code = "TASK_INVALID_DEPTH"
	CodeTaskInvalidStatus     Code = "TASK_INVALID_STATUS"
	CodeTaskNotFound          Code = "TASK_NOT_FOUND"
	CodeTaskStatusTransition  Code = "TASK_INVALID_STATUS_TRANSITION"
	CodeReflectionTextEmpty   Code = "REFLECTION_TEXT_EMPTY"
	CodeAccountAlreadyExists  Code = "ACCOUNT_ALREADY_EXISTS"
	CodeGrowthStateNotFound   Code = "GROWTH_STATE_NOT_FOUND"
	CodeGrowthStateContention Code = "GROWTH_STATE_CONTENTION"

	// Storage
	CodeNotFound    Code = "NOT_FOUND"
	CodeUnavailable Code = "UNAVAILABLE"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument,
		CodeUserIDRequired,
		CodeInvalidSinceUTC,
		CodeInvalidLimit,
		CodeTaskTitleEmpty,
		CodeTaskInvalidDepth,
		CodeTaskInvalidStatus,
		CodeReflectionTextEmpty:
		return http.StatusBadRequest

	case CodeUnauthenticated, CodeTokenExpired:
		return http.StatusUnauthorized

	case CodeForbidden:
		return http.StatusForbidden

	case CodeNotFound, CodeTaskNotFound, CodeGrowthStateNotFound:
		return http.StatusNotFound

	case CodeTaskStatusTransition, CodeAccountAlreadyExists:
		return http.StatusConflict

	case CodeGrowthStateContention, CodeUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
