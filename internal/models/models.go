package models

import "time"

// User is one roster entry as the client knows it.
type User struct {
	ID              string     `json:"user_uuid"`
	DisplayName     string     `json:"nickname"`
	Online          bool       `json:"is_online"`
	LastMessage     *string    `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	Unread          bool       `json:"-"`
}

// HasPreview reports whether the user carries a last-message preview.
func (u User) HasPreview() bool {
	return u.LastMessage != nil && u.LastMessageTime != nil
}

type Message struct {
	From         string    `json:"from"`
	To           string    `json:"to"`
	Content      string    `json:"content"`
	FromNickname string    `json:"from_nickname,omitempty"`
	SentAt       time.Time `json:"sent_at"`
}

// Presence is one entry of a user_list frame. A batch may be partial.
type Presence struct {
	UserID          string    `json:"user_uuid"`
	Nickname        string    `json:"nickname"`
	Online          bool      `json:"is_online"`
	LastMessage     string    `json:"last_message,omitempty"`
	LastMessageTime time.Time `json:"last_message_time,omitempty"`
}

// Socket frame discriminators.
const (
	FrameUserList       = "user_list"
	FrameUserRegistered = "user_registered"
	FrameForceLogout    = "force_logout"
	FrameTypingStart    = "typing_start"
	FrameTypingStop     = "typing_stop"
)

type UserListFrame struct {
	Type  string     `json:"type"`
	Users []Presence `json:"users"`
}

type UserRegisteredFrame struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"user_uuid"`
		Nickname string `json:"nickname"`
	} `json:"user"`
}

// TypingEvent is a peer typing transition pushed by the server.
type TypingEvent struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	Nickname string `json:"nickname"`
}

// Outbound frames
type OutgoingMessage struct {
	To      string `json:"to"`
	Content string `json:"content"`
}

type TypingSignal struct {
	Type string `json:"type"`
	To   string `json:"to"`
}

// Request/Response structures
type RegisterRequest struct {
	Nickname  string `json:"nickname"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type MeResponse struct {
	UserID string `json:"user_uuid"`
}

// DirectoryEntry is one row of GET /users.
type DirectoryEntry struct {
	ID       string `json:"uuid"`
	Nickname string `json:"nickname"`
	Online   bool   `json:"isOnline"`
}

func (e DirectoryEntry) User() User {
	return User{ID: e.ID, DisplayName: e.Nickname, Online: e.Online}
}

type Post struct {
	UUID       string    `json:"uuid"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Nickname   string    `json:"nickname"`
	Categories []string  `json:"categories,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Comment struct {
	Author    string    `json:"author"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type PostDetails struct {
	Post
	Comments []Comment `json:"comments"`
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type CreatePostRequest struct {
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Categories []string `json:"categories"`
}

type CreateCommentRequest struct {
	PostUUID string `json:"post_uuid"`
	Content  string `json:"content"`
}
