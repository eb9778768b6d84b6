package handlers

import (
	"errors"

	"devconnector-chat/internal/repositories"
)

var (
	ErrSenderMismatch = errors.New("sender does not match the authenticated user")
	ErrNotParticipant = errors.New("user is not a chat participant")
	ErrSelfChat       = errors.New("cannot message yourself")

	errMalformedPayload = errors.New("malformed payload")
)

// publicError maps an action failure to the text sent to the caller.
func publicError(err error) string {
	switch {
	case errors.Is(err, ErrSenderMismatch), errors.Is(err, ErrNotParticipant), errors.Is(err, ErrSelfChat):
		return err.Error()
	case errors.Is(err, repositories.ErrChatNotFound):
		return "chat not found"
	case errors.Is(err, repositories.ErrUserNotFound):
		return "user not found"
	default:
		return "internal error"
	}
}
