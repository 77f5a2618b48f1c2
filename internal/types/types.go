package types

import (
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
)

// Valid reports whether t is one of the supported message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio:
		return true
	}
	return false
}

// IsMedia reports whether messages of this type carry a stored file reference.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != MessageTypeText
}

type User struct {
	Id        int       `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	Password  string    `json:"-"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// UserSummary is the public projection of a user embedded in messages.
type UserSummary struct {
	Id     int    `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Conversation struct {
	Id          string        `json:"id"`
	Name        string        `json:"name"`
	Image       string        `json:"image,omitempty"`
	IsGroup     bool          `json:"is_group"`
	Members     []UserSummary `json:"members"`
	Admins      []int         `json:"admins,omitempty"`
	LastMessage string        `json:"last_message,omitempty"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at,omitempty"`
}

// InboxEntry is a conversation as seen from one member's inbox list.
type InboxEntry struct {
	Id              string     `json:"id"`
	Name            string     `json:"name"`
	Image           string     `json:"image,omitempty"`
	Email           string     `json:"email,omitempty"`
	IsGroup         bool       `json:"is_group"`
	Members         []int      `json:"members"`
	Admins          []int      `json:"admins,omitempty"`
	LastMessage     string     `json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time"`
	Unread          bool       `json:"unread"`
	UnreadCount     int        `json:"unread_count"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type Message struct {
	Id             string        `json:"id"`
	ConversationId string        `json:"chat_id"`
	Sender         UserSummary   `json:"sender"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	ReadBy         []UserSummary `json:"read_by"`
	LikedBy        []UserSummary `json:"liked_by"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}
