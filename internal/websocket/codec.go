package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"forumchat/internal/models"
)

var ErrMalformedFrame = errors.New("websocket: malformed frame")

// ForceLogout is the decoded form of a force_logout frame.
type ForceLogout struct{}

// Handler receives decoded inbound frames. Calls are made on the event loop,
// in the order the transport delivered the frames.
type Handler interface {
	HandleUserList(users []models.Presence)
	HandleUserRegistered(user models.User)
	HandleForceLogout()
	HandleTyping(ev models.TypingEvent)
	HandleMessage(msg models.Message)
}

type envelope struct {
	Type string `json:"type"`
}

// FrameType returns the type discriminator of raw, "message" when it has
// none, or "" when raw is not a JSON object.
func FrameType(raw []byte) string {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	if env.Type == "" {
		return "message"
	}
	return env.Type
}

// Decode parses one inbound frame. The result is one of models.UserListFrame,
// models.UserRegisteredFrame, ForceLogout, models.TypingEvent or
// models.Message. A frame with no type, or a type this client does not know,
// is read as a chat message.
func Decode(raw []byte) (any, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch env.Type {
	case models.FrameUserList:
		var f models.UserListFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: user_list: %v", ErrMalformedFrame, err)
		}
		for i, u := range f.Users {
			if u.UserID == "" {
				return nil, fmt.Errorf("%w: user_list entry %d has no user_uuid", ErrMalformedFrame, i)
			}
		}
		return f, nil

	case models.FrameUserRegistered:
		var f models.UserRegisteredFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: user_registered: %v", ErrMalformedFrame, err)
		}
		if f.User.ID == "" {
			return nil, fmt.Errorf("%w: user_registered without user_uuid", ErrMalformedFrame)
		}
		return f, nil

	case models.FrameForceLogout:
		return ForceLogout{}, nil

	case models.FrameTypingStart, models.FrameTypingStop:
		var ev models.TypingEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, env.Type, err)
		}
		if ev.From == "" {
			return nil, fmt.Errorf("%w: %s without from", ErrMalformedFrame, env.Type)
		}
		return ev, nil
	}

	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrMalformedFrame, err)
	}
	if msg.From == "" || msg.To == "" {
		return nil, fmt.Errorf("%w: message without from/to", ErrMalformedFrame)
	}
	return msg, nil
}

// Dispatch hands a decoded frame to h.
func Dispatch(h Handler, frame any) {
	switch f := frame.(type) {
	case models.UserListFrame:
		h.HandleUserList(f.Users)
	case models.UserRegisteredFrame:
		h.HandleUserRegistered(models.User{ID: f.User.ID, DisplayName: f.User.Nickname})
	case ForceLogout:
		h.HandleForceLogout()
	case models.TypingEvent:
		h.HandleTyping(f)
	case models.Message:
		h.HandleMessage(f)
	}
}
