package types

import (
	"errors"
	"fmt"
)

var (
	ErrBadRequest            = errors.New("bad request")
	ErrNoRegisteredUserFound = errors.New("no registered user found")
	ErrNoRoomAccess          = errors.New("no room access")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrDialogueOpenedAlready = errors.New("dialogue opened already")
	ErrNoRoomFound           = errors.New("no room found")
	ErrNoFileFound           = errors.New("no file found")
	ErrUsernameAlreadyInUse  = errors.New("username already in use")
	ErrUsernameUnacceptable  = errors.New("username unacceptable")
	ErrWeakPassword          = errors.New("weak password")
)

const (
	ReasonNotAuthorized     = "Not authorized."
	ReasonNotAllowedToJoin  = "Not allowed to join this room."
	ReasonNotAllowed        = "Not allowed."
	ReasonDialogueOpened    = "Dialogue opened already."
	ReasonNoDialogue        = "No dialogue found."
	ReasonIncorrectAuth     = "Incorrect username or password."
	ReasonUsernameTaken     = "The specified username is already taken."
	ReasonUsernameRejected  = "Usernames must not be empty or start with '" + CommandPrefix + "'."
	ReasonWeakPassword      = "The password must be at least 3 characters long."
	ReasonAlreadyLoggedIn   = "Already logged in."
	ReasonAlreadyLoggedOut  = "Already logged out."
	ReasonBadRequest        = "Bad request."
	ReasonNoRegisteredUser  = "No registered user found."
	ReasonNoRoomFound       = "No room found."
	ReasonNoFileFound       = "No file found."
	ReasonRoomNameTaken     = "The specified room name is already taken."
	ReasonAlreadyInRoom     = "Already in this room."
	ReasonUnknownError      = "Unknown error."
	ReasonServerUnavailable = "Server unavailable."
)

// ChatError attaches a client facing reason to one of the sentinel errors.
type ChatError struct {
	Reason string
	Err    error
}

func (e *ChatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Reason, e.Err.Error())
	}

	return e.Reason
}

func (e *ChatError) Unwrap() error {
	return e.Err
}

func NewChatError(err error, reason string) *ChatError {
	return &ChatError{Reason: reason, Err: err}
}

var reasons = []struct {
	err    error
	reason string
}{
	{ErrBadRequest, ReasonBadRequest},
	{ErrNoRegisteredUserFound, ReasonNoRegisteredUser},
	{ErrNoRoomAccess, ReasonNotAllowed},
	{ErrNotAuthorized, ReasonNotAuthorized},
	{ErrDialogueOpenedAlready, ReasonDialogueOpened},
	{ErrNoRoomFound, ReasonNoRoomFound},
	{ErrNoFileFound, ReasonNoFileFound},
	{ErrUsernameAlreadyInUse, ReasonUsernameTaken},
	{ErrUsernameUnacceptable, ReasonUsernameRejected},
	{ErrWeakPassword, ReasonWeakPassword},
}

// Reason maps err to the reason shown to clients. ok is false when err is
// not part of the chat error taxonomy.
func Reason(err error) (reason string, ok bool) {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Reason, true
	}

	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason, true
		}
	}

	return ReasonUnknownError, false
}
