package chat

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/storage"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Messages persists chat messages and their read and like state.
type Messages struct {
	log        *log.Logger
	db         database.GoChatRepository
	assets     storage.AssetStore
	generateId func() string
}

func NewMessages(logger *log.Logger, db database.GoChatRepository, assets storage.AssetStore) *Messages {
	return &Messages{
		log:        logger,
		db:         db,
		assets:     assets,
		generateId: uuid.NewString,
	}
}

// Append stores a message and makes it the conversation's last message.
// Media content is the reference returned by the asset store.
func (s *Messages) Append(conversationId string, sender types.User, content string, typ types.MessageType) (types.Message, error) {
	if !typ.Valid() {
		return types.Message{}, fmt.Errorf("message type %q: %w", typ, types.ErrBadRequest)
	}
	if strings.TrimSpace(content) == "" {
		return types.Message{}, fmt.Errorf("empty message: %w", types.ErrBadRequest)
	}

	msg, err := s.db.CreateMessage(database.CreateMessageParams{
		Id:             s.generateId(),
		ConversationId: conversationId,
		SenderId:       sender.Id,
		Content:        content,
		Type:           string(typ),
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return types.Message{}, notFound(err, "create message")
	}

	summary := types.UserSummary{Id: sender.Id, Name: sender.Name, Avatar: sender.Avatar}
	return types.Message{
		Id:             msg.Id,
		ConversationId: msg.ConversationId,
		Sender:         summary,
		Content:        msg.Content,
		Type:           types.MessageType(msg.Type),
		ReadBy:         []types.UserSummary{summary},
		LikedBy:        []types.UserSummary{},
		CreatedAt:      msg.CreatedAt,
		UpdatedAt:      msg.UpdatedAt,
	}, nil
}

// Retrieve lists a conversation's messages newest first with every user
// reference expanded.
func (s *Messages) Retrieve(requesterId int, conversationId string) ([]types.Message, error) {
	conv, err := s.db.GetConversation(conversationId)
	if err != nil {
		return nil, notFound(err, "get conversation")
	}
	if !conv.HasMember(requesterId) {
		return nil, fmt.Errorf("user %d not in conversation %q: %w", requesterId, conversationId, types.ErrForbidden)
	}

	dbMessages, err := s.db.GetMessages(conversationId)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}

	ids := make([]int, 0)
	for _, m := range dbMessages {
		ids = append(ids, m.SenderId)
		ids = append(ids, m.ReadBy...)
		ids = append(ids, m.LikedBy...)
	}

	byId, err := accountsById(s.db, dedup(ids))
	if err != nil {
		return nil, err
	}

	messages := make([]types.Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		messages = append(messages, types.Message{
			Id:             m.Id,
			ConversationId: m.ConversationId,
			Sender:         summaries([]int{m.SenderId}, byId)[0],
			Content:        m.Content,
			Type:           types.MessageType(m.Type),
			ReadBy:         summaries(m.ReadBy, byId),
			LikedBy:        summaries(m.LikedBy, byId),
			CreatedAt:      m.CreatedAt,
			UpdatedAt:      m.UpdatedAt,
		})
	}

	return messages, nil
}

// MarkAllRead adds userId to the read set of every message in the
// conversation and returns how many messages changed.
func (s *Messages) MarkAllRead(conversationId string, userId int) (int, error) {
	n, err := s.db.MarkMessagesRead(conversationId, userId)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return n, nil
}

// DeleteCascade removes every message of a conversation along with the
// stored media they reference.
func (s *Messages) DeleteCascade(conversationId string) (int, error) {
	dbMessages, err := s.db.GetMessages(conversationId)
	if err != nil {
		return 0, fmt.Errorf("get messages: %w", err)
	}

	n, err := s.db.DeleteMessages(conversationId)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}

	for _, m := range dbMessages {
		s.deleteAsset(m)
	}

	return n, nil
}

func (s *Messages) message(conversationId, messageId string) (database.Message, error) {
	msg, err := s.db.GetMessage(messageId)
	if err != nil {
		return database.Message{}, notFound(err, "get message")
	}
	if msg.ConversationId != conversationId {
		return database.Message{}, fmt.Errorf("message %q not in conversation %q: %w", messageId, conversationId, types.ErrNotFound)
	}
	return msg, nil
}

// Delete removes a message on behalf of its sender.
func (s *Messages) Delete(conversationId, messageId string, requesterId int) error {
	msg, err := s.message(conversationId, messageId)
	if err != nil {
		return err
	}
	if msg.SenderId != requesterId {
		return fmt.Errorf("user %d did not send message %q: %w", requesterId, messageId, types.ErrForbidden)
	}

	if err := s.db.DeleteMessage(messageId); err != nil {
		return notFound(err, "delete message")
	}

	s.deleteAsset(msg)
	return nil
}

// Like adds userId to the message's like set. It reports false when the
// user already liked it.
func (s *Messages) Like(conversationId, messageId string, userId int) (bool, error) {
	if _, err := s.message(conversationId, messageId); err != nil {
		return false, err
	}

	liked, err := s.db.LikeMessage(messageId, userId)
	if err != nil {
		return false, notFound(err, "like message")
	}
	return liked, nil
}

func (s *Messages) deleteAsset(msg database.Message) {
	if s.assets == nil || !types.MessageType(msg.Type).IsMedia() {
		return
	}
	if err := s.assets.Delete(msg.Content); err != nil {
		s.log.Printf("delete asset %q: %v", msg.Content, err)
	}
}
