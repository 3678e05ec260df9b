package chat

import "errors"

var (
	ErrEmptyMessage   = errors.New("chat: message is empty")
	ErrNoConversation = errors.New("chat: no conversation selected")
	ErrNotConnected   = errors.New("chat: not connected to the server")
	ErrLoggedOut      = errors.New("chat: logged out")
)
