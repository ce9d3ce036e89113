package gateway

import (
	"errors"
)

// Error codes sent to clients in error envelopes.
const (
	CodeAuthTokenRequired      = "AUTH_TOKEN_REQUIRED"
	CodeAuthTokenInvalid       = "AUTH_TOKEN_INVALID"
	CodeRoomIDRequired         = "ROOM_ID_REQUIRED"
	CodeRoomNotMember          = "ROOM_NOT_MEMBER"
	CodeRoomNotFound           = "ROOM_NOT_FOUND"
	CodeRoomInviteInvalid      = "ROOM_INVITE_INVALID"
	CodeRoomSpectatorForbidden = "ROOM_SPECTATOR_FORBIDDEN"
	CodeActionInvalid          = "ACTION_INVALID"
	CodeMessageUnsupported     = "MESSAGE_UNSUPPORTED"
	CodeMessageMalformed       = "MESSAGE_MALFORMED"
	CodeServerError            = "SERVER_ERROR"
)

// Gateway errors.
var (
	ErrAlreadyStarted = errors.New("gateway already started")
	ErrContextClosed  = errors.New("context closed")
)

// AppError is an application error whose Code is safe to send to clients.
type AppError struct {
	Code    string
	Message string
	Err     error
}

// NewError creates an AppError.
func NewError(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// WrapError creates an AppError carrying err as its cause.
func WrapError(code string, err error) *AppError {
	return &AppError{Code: code, Err: err}
}

func (e *AppError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Code + ": " + e.Message
	case e.Err != nil:
		return e.Code + ": " + e.Err.Error()
	default:
		return e.Code
	}
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// CodeOf returns the client-facing code for err. Errors that are not an
// AppError collapse to SERVER_ERROR so internal detail never leaks.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	return CodeServerError
}
