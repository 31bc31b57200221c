package client

import (
	"errors"
	"fmt"
)

// TransportError wraps a failure to reach the backend or read its reply.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplicationError is a {success:false} reply from the backend. Code carries
// the envelope's error field and Detail its optional detail.
type ApplicationError struct {
	Action string
	Code   string
	Detail string
}

func (e *ApplicationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Action, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Code)
}

const genericTransportMessage = "We couldn't reach the archive. Check your connection and try again."

var userCopy = map[string]string{
	"ITEM_LOCKED":        "This item is under review or already approved and can't be changed right now.",
	"PROFILE_LOCKED":     "Your profile is waiting for review and can't be changed right now.",
	"PROFILE_INCOMPLETE": "Your profile isn't ready to submit yet.",
	"UNSUPPORTED_TYPE":   "That file type isn't supported.",
	"FILE_TOO_LARGE":     "That file is too large to upload.",
	"NOT_FOUND":          "We couldn't find that item. It may have been removed.",
	"INVALID_TRANSITION": "That action isn't available for this item right now.",
	"FORBIDDEN":          "You don't have permission to do that.",
	"UNAUTHORIZED":       "Your session has expired. Please sign in again.",
}

// UserMessage maps any client error to copy suitable for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		if msg, ok := userCopy[appErr.Code]; ok {
			return msg
		}
		if appErr.Detail != "" {
			return appErr.Detail
		}
		return "Something went wrong. Please try again."
	}
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return genericTransportMessage
	}
	return err.Error()
}

// IsCode reports whether err is an ApplicationError with the given code.
func IsCode(err error, code string) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr) && appErr.Code == code
}
