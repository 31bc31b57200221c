package app

import (
	"fmt"
	"net/http"
)

// Application error codes carried in the failure envelope.
const (
	CodeInvalidBody       = "INVALID_BODY"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeItemLocked        = "ITEM_LOCKED"
	CodeProfileLocked     = "PROFILE_LOCKED"
	CodeProfileIncomplete = "PROFILE_INCOMPLETE"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeNotifyFailed      = "NOTIFICATION_FAILED"
	CodeServerError       = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, nil)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}
