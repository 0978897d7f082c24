package protocol

import (
	"errors"

	"github.com/CefBoud/peerbus/types"
)

// Error kinds, carried in the `code` field of error responses
const (
	CodeProtocol          = "ProtocolError"
	CodeNotFound          = "NotFound"
	CodeAlreadyExists     = "AlreadyExists"
	CodeUnknownPeer       = "UnknownPeer"
	CodeEmptyBuffer       = "EmptyBuffer"
	CodeLocalMismatch     = "LocalMismatch"
	CodeRemoteUnreachable = "RemoteUnreachable"
	CodeInternal          = "Internal"
)

// Error is a struct to hold the code, message, and retriability status.
// Two Errors match under errors.Is when their codes are equal, so an error
// rebuilt from a remote response matches the local sentinel of its kind.
type Error struct {
	Code        string
	Message     string
	IsRetriable bool
}

func (e Error) Error() string {
	return e.Message
}

// Is matches errors of the same kind.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	return ok && t.Code == e.Code
}

// Define each error as a variable of type Error
var (
	ErrInvalidFormat      = Error{Code: CodeProtocol, Message: "Invalid format"}
	ErrUnknownCommand     = Error{Code: CodeProtocol, Message: "Unknown command"}
	ErrMessageTooLarge    = Error{Code: CodeProtocol, Message: "Message too large"}
	ErrTopicNotFound      = Error{Code: CodeNotFound, Message: "Topic not found"}
	ErrPeerNotFound       = Error{Code: CodeNotFound, Message: "Peer not found"}
	ErrNotSubscribed      = Error{Code: CodeNotFound, Message: "Not subscribed to topic"}
	ErrTopicAlreadyExists = Error{Code: CodeAlreadyExists, Message: "Topic already exists"}
	ErrUnknownPeer        = Error{Code: CodeUnknownPeer, Message: "Peer is not registered"}
	ErrEmptyBuffer        = Error{Code: CodeEmptyBuffer, Message: "No messages to pull"}
	ErrLocalMismatch      = Error{Code: CodeLocalMismatch, Message: "Topic does not exist on this peer"}
	ErrRemoteUnreachable  = Error{Code: CodeRemoteUnreachable, Message: "Remote peer unreachable", IsRetriable: true}
	ErrInternal           = Error{Code: CodeInternal, Message: "Internal error"}
)

// ErrorResponse turns err into an error response. The message keeps any
// context wrapped around the sentinel.
func ErrorResponse(err error) types.Response {
	resp := types.Response{Status: types.StatusError, Code: CodeInternal, Message: err.Error()}
	var e Error
	if errors.As(err, &e) {
		resp.Code = e.Code
	}
	return resp
}

// ErrorFromResponse rebuilds the error carried by an error response, or
// returns nil for a success.
func ErrorFromResponse(resp types.Response) error {
	if resp.OK() {
		return nil
	}
	code := resp.Code
	if code == "" {
		code = CodeInternal
	}
	return Error{Code: code, Message: resp.Message, IsRetriable: code == CodeRemoteUnreachable}
}
