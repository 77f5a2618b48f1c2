package server

import (
	"encoding/base64"
	"fmt"

	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/npezzotti/go-messenger/internal/upload"
)

func (c *Client) subscribeToInbox(msg *ClientMessage) error {
	if !c.chatServer.hub.Join(c, InboxRoom(c.identity.User.Email)) {
		return fmt.Errorf("client %s not registered", c.id)
	}
	c.queueMessage(NoErrOK(msg.Id, nil))
	return nil
}

func (c *Client) subscribeToChat(msg *ClientMessage) error {
	roomId := msg.SubscribeToChat.RoomId
	if _, err := c.chatServer.registry.Authorize(roomId, c.userId()); err != nil {
		return err
	}

	if !c.chatServer.hub.Join(c, roomId) {
		return fmt.Errorf("client %s not registered", c.id)
	}
	c.queueMessage(NoErrOK(msg.Id, map[string]any{"roomId": roomId}))
	return nil
}

func (c *Client) unsubscribeFromChat(msg *ClientMessage) error {
	c.chatServer.hub.Leave(c, msg.UnsubscribeFromChat.RoomId)
	c.queueMessage(NoErrOK(msg.Id, nil))
	return nil
}

// sendChatMessage persists a text message, or feeds one chunk of a media
// message to the reassembler and persists the media once complete.
func (c *Client) sendChatMessage(msg *ClientMessage) error {
	p := msg.SendMessage
	cs := c.chatServer
	user := c.identity.User

	typ := types.MessageType(p.Type)
	if !typ.Valid() {
		return fmt.Errorf("message type %q: %w", p.Type, types.ErrBadRequest)
	}

	membership, err := cs.registry.Authorize(p.RoomId, user.Id)
	if err != nil {
		return err
	}

	content := p.Content
	if typ.IsMedia() {
		chunkIndex, totalChunks := 0, 1
		if p.ChunkIndex != nil {
			chunkIndex = *p.ChunkIndex
		}
		if p.TotalChunks != nil {
			totalChunks = *p.TotalChunks
		}

		payload, err := base64.StdEncoding.DecodeString(p.Content)
		if err != nil {
			return fmt.Errorf("decode chunk: %v: %w", err, types.ErrBadRequest)
		}

		key := upload.Key{ConversationId: p.RoomId, SenderId: user.Id}
		res, err := cs.uploads.Accept(key, chunkIndex, totalChunks, payload)
		if err != nil {
			return fmt.Errorf("accept chunk %d/%d: %w", chunkIndex, totalChunks, err)
		}
		if !res.Complete {
			c.queueMessage(NoErrAccepted(msg.Id))
			return nil
		}

		ref, err := cs.assets.Save(typ, res.Data)
		if err != nil {
			return fmt.Errorf("save %s: %w", typ, err)
		}
		content = ref
	}

	var saved types.Message
	err = cs.rooms.Do(p.RoomId, func() error {
		var err error
		saved, err = cs.messages.Append(p.RoomId, user, content, typ)
		if err != nil {
			return err
		}

		cs.hub.Emit(p.RoomId, ChatMessageReceived(saved, user), nil)
		cs.NotifyInbox(membership.Emails()...)
		return nil
	})
	if err != nil {
		if typ.IsMedia() {
			if derr := cs.assets.Delete(content); derr != nil {
				c.log.Printf("delete orphaned asset %q: %v", content, derr)
			}
		}
		return err
	}
	cs.stats.Incr(stats.TotalMessages)

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"messageId": saved.Id}))
	return nil
}

func (c *Client) deleteMessage(msg *ClientMessage) error {
	p := msg.DeleteMessage
	cs := c.chatServer

	membership, err := cs.registry.Authorize(p.RoomId, c.userId())
	if err != nil {
		return err
	}

	err = cs.rooms.Do(p.RoomId, func() error {
		if err := cs.messages.Delete(p.RoomId, p.MessageId, c.userId()); err != nil {
			return err
		}

		cs.hub.Emit(p.RoomId, MessageDeletedEvent(p.MessageId, p.RoomId), nil)
		cs.NotifyInbox(membership.Emails()...)
		return nil
	})
	if err != nil {
		return err
	}

	c.queueMessage(NoErrOK(msg.Id, nil))
	return nil
}

func (c *Client) markAllRead(msg *ClientMessage) error {
	chatId := msg.MarkAllMessagesAsRead.ChatId
	cs := c.chatServer

	if _, err := cs.registry.Authorize(chatId, c.userId()); err != nil {
		return err
	}

	var n int
	err := cs.rooms.Do(chatId, func() error {
		var err error
		n, err = cs.messages.MarkAllRead(chatId, c.userId())
		if err != nil {
			return err
		}

		if n > 0 {
			cs.hub.Emit(chatId, MessagesReadEvent(chatId, c.userId(), n), nil)
			cs.NotifyInbox(c.identity.User.Email)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"count": n}))
	return nil
}

func (c *Client) likeMessage(msg *ClientMessage) error {
	p := msg.LikeMessage
	cs := c.chatServer

	if _, err := cs.registry.Authorize(p.RoomId, c.userId()); err != nil {
		return err
	}

	var liked bool
	err := cs.rooms.Do(p.RoomId, func() error {
		var err error
		liked, err = cs.messages.Like(p.RoomId, p.MessageId, c.userId())
		if err != nil {
			return err
		}

		if liked {
			cs.hub.Emit(p.RoomId, MessageLikedEvent(p.MessageId, p.RoomId, c.userId()), nil)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.queueMessage(NoErrOK(msg.Id, map[string]any{"liked": liked}))
	return nil
}

func (c *Client) typing(msg *ClientMessage) error {
	roomId := msg.Typing.RoomId
	if !c.chatServer.hub.InRoom(c, roomId) {
		return fmt.Errorf("not subscribed to %q: %w", roomId, types.ErrForbidden)
	}

	c.chatServer.hub.Emit(roomId, TypingEvent(roomId, c.identity.User), c)
	c.queueMessage(NoErrOK(msg.Id, nil))
	return nil
}
