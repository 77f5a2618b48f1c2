package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ClientMessage is the envelope of every client event. Exactly one payload
// field is set.
type ClientMessage struct {
	BaseMessage
	SubscribeToInbox      *SubscribeToInbox `json:"subscribeToInbox,omitempty"`
	SubscribeToChat       *RoomRef          `json:"subscribeToChat,omitempty"`
	UnsubscribeFromChat   *RoomRef          `json:"unsubscribeFromChat,omitempty"`
	SendMessage           *SendMessage      `json:"sendMessage,omitempty"`
	DeleteMessage         *MessageRef       `json:"deleteMessage,omitempty"`
	MarkAllMessagesAsRead *MarkAllRead      `json:"markAllMessagesAsRead,omitempty"`
	LikeMessage           *MessageRef       `json:"likeMessage,omitempty"`
	Typing                *RoomRef          `json:"typing,omitempty"`
	Logout                *Logout           `json:"logout,omitempty"`
}

type SubscribeToInbox struct{}

type Logout struct{}

type RoomRef struct {
	RoomId string `json:"roomId"`
}

type SendMessage struct {
	RoomId      string `json:"roomId"`
	Content     string `json:"content"`
	Type        string `json:"type"`
	ChunkIndex  *int   `json:"chunkIndex,omitempty"`
	TotalChunks *int   `json:"totalChunks,omitempty"`
}

type MessageRef struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type MarkAllRead struct {
	ChatId string `json:"chatId"`
}

var errInvalidEnvelope = errors.New("invalid message format")

// Kind names the payload of the envelope, or "" when none is set.
func (m *ClientMessage) Kind() string {
	kind, _ := m.kinds()
	return kind
}

func (m *ClientMessage) kinds() (string, int) {
	var (
		kind string
		n    int
	)
	set := func(ok bool, name string) {
		if ok {
			kind = name
			n++
		}
	}

	set(m.SubscribeToInbox != nil, "subscribeToInbox")
	set(m.SubscribeToChat != nil, "subscribeToChat")
	set(m.UnsubscribeFromChat != nil, "unsubscribeFromChat")
	set(m.SendMessage != nil, "sendMessage")
	set(m.DeleteMessage != nil, "deleteMessage")
	set(m.MarkAllMessagesAsRead != nil, "markAllMessagesAsRead")
	set(m.LikeMessage != nil, "likeMessage")
	set(m.Typing != nil, "typing")
	set(m.Logout != nil, "logout")

	if n != 1 {
		return "", n
	}
	return kind, n
}

// Validate checks that exactly one payload is present and that it names
// the rooms and messages it acts on.
func (m *ClientMessage) Validate() error {
	if _, n := m.kinds(); n != 1 {
		return fmt.Errorf("%d payloads: %w", n, errInvalidEnvelope)
	}

	missing := func(field string) error {
		return fmt.Errorf("missing %s: %w", field, errInvalidEnvelope)
	}

	switch {
	case m.SubscribeToChat != nil && m.SubscribeToChat.RoomId == "":
		return missing("roomId")
	case m.UnsubscribeFromChat != nil && m.UnsubscribeFromChat.RoomId == "":
		return missing("roomId")
	case m.Typing != nil && m.Typing.RoomId == "":
		return missing("roomId")
	case m.SendMessage != nil && m.SendMessage.RoomId == "":
		return missing("roomId")
	case m.SendMessage != nil && m.SendMessage.Type == "":
		return missing("type")
	case m.DeleteMessage != nil && (m.DeleteMessage.RoomId == "" || m.DeleteMessage.MessageId == ""):
		return missing("messageId or roomId")
	case m.LikeMessage != nil && (m.LikeMessage.RoomId == "" || m.LikeMessage.MessageId == ""):
		return missing("messageId or roomId")
	case m.MarkAllMessagesAsRead != nil && m.MarkAllMessagesAsRead.ChatId == "":
		return missing("chatId")
	}
	return nil
}

type ServerMessage struct {
	BaseMessage
	Response            *Response       `json:"response,omitempty"`
	ChatMessageReceived *ChatMessage    `json:"chatMessageReceived,omitempty"`
	MessageDeleted      *MessageDeleted `json:"messageDeleted,omitempty"`
	InboxUpdated        *InboxUpdated   `json:"inboxUpdated,omitempty"`
	ChatUpdated         *ChatUpdated    `json:"chatUpdated,omitempty"`
	MessagesRead        *MessagesRead   `json:"messagesRead,omitempty"`
	MessageLiked        *MessageLiked   `json:"messageLiked,omitempty"`
	Typing              *Typing         `json:"typing,omitempty"`
	TokenExpired        *TokenExpired   `json:"tokenExpired,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

type Sender struct {
	Id     int    `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
	Email  string `json:"email"`
}

type ChatMessage struct {
	Id      string            `json:"id"`
	Sender  Sender            `json:"sender"`
	Content string            `json:"content"`
	Type    types.MessageType `json:"type"`
	Date    time.Time         `json:"date"`
	ChatId  string            `json:"chatId"`
}

type MessageDeleted struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
}

type InboxUpdated struct{}

type ChatUpdated struct {
	ChatId string `json:"chatId"`
}

type MessagesRead struct {
	ChatId string `json:"chatId"`
	UserId int    `json:"userId"`
	Count  int    `json:"count"`
}

type MessageLiked struct {
	MessageId string `json:"messageId"`
	RoomId    string `json:"roomId"`
	UserId    int    `json:"userId"`
}

type Typing struct {
	RoomId string            `json:"roomId"`
	User   types.UserSummary `json:"user"`
}

type TokenExpired struct{}

func newServerMessage(id int) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusOK,
		Data:         data,
	}
	return msg
}

func NoErrAccepted(id int) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusAccepted,
	}
	return msg
}

func ErrInternalError(id int) *ServerMessage {
	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: http.StatusInternalServerError,
		Error:        "internal server error",
	}
	return msg
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newServerMessage(0)
	msg.Response = &Response{
		ResponseCode: http.StatusBadRequest,
		Error:        errInvalidEnvelope.Error(),
	}

	if id > 0 {
		msg.Id = id
	}
	return msg
}

// ErrResponse acknowledges a failed event with the status matching err.
func ErrResponse(id int, err error) *ServerMessage {
	var code int
	switch {
	case errors.Is(err, errInvalidEnvelope), errors.Is(err, types.ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthenticated):
		code = http.StatusUnauthorized
	case errors.Is(err, types.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, types.ErrIncompleteAssembly):
		code = http.StatusUnprocessableEntity
	default:
		return ErrInternalError(id)
	}

	msg := newServerMessage(id)
	msg.Response = &Response{
		ResponseCode: code,
		Error:        err.Error(),
	}
	return msg
}

func ChatMessageReceived(m types.Message, sender types.User) *ServerMessage {
	msg := newServerMessage(0)
	msg.ChatMessageReceived = &ChatMessage{
		Id: m.Id,
		Sender: Sender{
			Id:     sender.Id,
			Name:   sender.Name,
			Avatar: sender.Avatar,
			Email:  sender.Email,
		},
		Content: m.Content,
		Type:    m.Type,
		Date:    m.CreatedAt,
		ChatId:  m.ConversationId,
	}
	return msg
}

func MessageDeletedEvent(messageId, roomId string) *ServerMessage {
	msg := newServerMessage(0)
	msg.MessageDeleted = &MessageDeleted{MessageId: messageId, RoomId: roomId}
	return msg
}

func InboxUpdatedEvent() *ServerMessage {
	msg := newServerMessage(0)
	msg.InboxUpdated = &InboxUpdated{}
	return msg
}

func ChatUpdatedEvent(chatId string) *ServerMessage {
	msg := newServerMessage(0)
	msg.ChatUpdated = &ChatUpdated{ChatId: chatId}
	return msg
}

func MessagesReadEvent(chatId string, userId, count int) *ServerMessage {
	msg := newServerMessage(0)
	msg.MessagesRead = &MessagesRead{ChatId: chatId, UserId: userId, Count: count}
	return msg
}

func MessageLikedEvent(messageId, roomId string, userId int) *ServerMessage {
	msg := newServerMessage(0)
	msg.MessageLiked = &MessageLiked{MessageId: messageId, RoomId: roomId, UserId: userId}
	return msg
}

func TypingEvent(roomId string, user types.User) *ServerMessage {
	msg := newServerMessage(0)
	msg.Typing = &Typing{
		RoomId: roomId,
		User:   types.UserSummary{Id: user.Id, Name: user.Name, Avatar: user.Avatar},
	}
	return msg
}

func TokenExpiredEvent() *ServerMessage {
	msg := newServerMessage(0)
	msg.TokenExpired = &TokenExpired{}
	return msg
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
