package database

import (
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

type memConversation struct {
	Conversation
	seq int64
}

type memMessage struct {
	Message
	seq int64
}

// MemGoChatRepository is a process-local GoChatRepository. It backs the
// "memory" store and the package tests of the layers above. Every record
// handed out is a copy; callers never share slices with the store.
type MemGoChatRepository struct {
	mu            sync.RWMutex
	seq           int64
	nextAccountId int
	accounts      map[int]User
	conversations map[string]*memConversation
	messages      map[string]*memMessage
	now           func() time.Time
}

func NewMemGoChatRepository() *MemGoChatRepository {
	return &MemGoChatRepository{
		nextAccountId: 1,
		accounts:      make(map[int]User),
		conversations: make(map[string]*memConversation),
		messages:      make(map[string]*memMessage),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemGoChatRepository) nextSeq() int64 {
	m.seq++
	return m.seq
}

func (m *MemGoChatRepository) Ping() error {
	return nil
}

func (m *MemGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.accounts {
		if strings.EqualFold(u.EmailAddress, params.EmailAddress) {
			return User{}, fmt.Errorf("create account %q: %w", params.EmailAddress, ErrDuplicateEmail)
		}
	}

	now := m.now()
	u := User{
		Id:           m.nextAccountId,
		Name:         params.Name,
		EmailAddress: params.EmailAddress,
		Avatar:       params.Avatar,
		PasswordHash: params.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[u.Id] = u
	m.nextAccountId++

	return u, nil
}

func (m *MemGoChatRepository) GetAccountById(id int) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.accounts[id]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	u.PasswordHash = ""
	return u, nil
}

func (m *MemGoChatRepository) GetAccountByEmail(email string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.accounts {
		if u.EmailAddress == email {
			return u, nil
		}
	}
	return User{}, sql.ErrNoRows
}

func (m *MemGoChatRepository) GetAccountsByIds(ids []int) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]User, 0, len(ids))
	seen := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if u, ok := m.accounts[id]; ok {
			u.PasswordHash = ""
			users = append(users, u)
		}
	}
	return users, nil
}

// conversationLocked returns a copy of the stored conversation with the
// read set of its last message attached. m.mu must be held.
func (m *MemGoChatRepository) conversationLocked(c *memConversation) Conversation {
	out := c.Conversation
	out.Members = slices.Clone(c.Members)
	out.Admins = append([]int{}, c.Admins...)
	out.LastMessageReadBy = []int{}
	if out.LastMessageAt != nil {
		t := *out.LastMessageAt
		out.LastMessageAt = &t
	}
	if last, ok := m.messages[c.LastMessageId]; ok {
		out.LastMessageReadBy = slices.Clone(last.ReadBy)
	}
	return out
}

func (m *MemGoChatRepository) GetConversation(id string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, sql.ErrNoRows
	}
	return m.conversationLocked(c), nil
}

func (m *MemGoChatRepository) FindDirectConversation(userA, userB int) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *memConversation
	for _, c := range m.conversations {
		if c.IsGroup || len(c.Members) != 2 {
			continue
		}
		if !c.HasMember(userA) || !c.HasMember(userB) {
			continue
		}
		if found == nil || c.seq < found.seq {
			found = c
		}
	}
	if found == nil {
		return Conversation{}, sql.ErrNoRows
	}
	return m.conversationLocked(found), nil
}

func (m *MemGoChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[params.Id]; exists {
		return Conversation{}, fmt.Errorf("conversation %q already exists", params.Id)
	}

	now := m.now()
	c := &memConversation{
		Conversation: Conversation{
			Id:        params.Id,
			Name:      params.Name,
			Image:     params.Image,
			IsGroup:   params.IsGroup,
			Members:   slices.Clone(params.Members),
			Admins:    append([]int{}, params.Admins...),
			CreatedAt: now,
			UpdatedAt: now,
		},
		seq: m.nextSeq(),
	}
	m.conversations[c.Id] = c

	return m.conversationLocked(c), nil
}

func (m *MemGoChatRepository) UpdateConversation(params UpdateConversationParams) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[params.Id]
	if !ok {
		return Conversation{}, sql.ErrNoRows
	}

	c.Name = params.Name
	c.Image = params.Image
	c.Members = slices.Clone(params.Members)
	c.Admins = append([]int{}, params.Admins...)
	c.UpdatedAt = m.now()
	c.seq = m.nextSeq()

	return m.conversationLocked(c), nil
}

func (m *MemGoChatRepository) RemoveMember(id string, accountId int) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[id]
	if !ok {
		return Conversation{}, sql.ErrNoRows
	}
	if !c.HasMember(accountId) {
		return Conversation{}, ErrNotMember
	}

	c.Members, c.Admins = withoutMember(c.Conversation, accountId)
	c.UpdatedAt = m.now()
	c.seq = m.nextSeq()

	return m.conversationLocked(c), nil
}

func (m *MemGoChatRepository) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for msgId, msg := range m.messages {
		if msg.ConversationId == id {
			delete(m.messages, msgId)
		}
	}
	delete(m.conversations, id)
	return nil
}

func (m *MemGoChatRepository) ListConversations(accountId int) ([]Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*memConversation, 0)
	for _, c := range m.conversations {
		if c.HasMember(accountId) {
			matched = append(matched, c)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	convs := make([]Conversation, 0, len(matched))
	for _, c := range matched {
		convs = append(convs, m.conversationLocked(c))
	}
	return convs, nil
}

func (m *MemGoChatRepository) CountUnread(accountId int, conversationIds []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(conversationIds))
	for _, msg := range m.messages {
		if !slices.Contains(conversationIds, msg.ConversationId) {
			continue
		}
		if !slices.Contains(msg.ReadBy, accountId) {
			counts[msg.ConversationId]++
		}
	}
	return counts, nil
}

func (m *MemGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[params.ConversationId]
	if !ok {
		return Message{}, sql.ErrNoRows
	}

	createdAt := params.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}

	msg := &memMessage{
		Message: Message{
			Id:             params.Id,
			ConversationId: params.ConversationId,
			SenderId:       params.SenderId,
			Content:        params.Content,
			Type:           params.Type,
			ReadBy:         []int{params.SenderId},
			LikedBy:        []int{},
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		},
		seq: m.nextSeq(),
	}
	m.messages[msg.Id] = msg

	m.setLastMessageLocked(c, msg)
	c.UpdatedAt = createdAt
	c.seq = msg.seq

	return copyMessage(msg.Message), nil
}

func (m *MemGoChatRepository) setLastMessageLocked(c *memConversation, msg *memMessage) {
	if msg == nil {
		c.LastMessageId = ""
		c.LastMessageContent = ""
		c.LastMessageType = ""
		c.LastMessageSender = 0
		c.LastMessageAt = nil
		return
	}

	at := msg.CreatedAt
	c.LastMessageId = msg.Id
	c.LastMessageContent = msg.Content
	c.LastMessageType = msg.Type
	c.LastMessageSender = msg.SenderId
	c.LastMessageAt = &at
}

func copyMessage(msg Message) Message {
	msg.ReadBy = slices.Clone(msg.ReadBy)
	msg.LikedBy = append([]int{}, msg.LikedBy...)
	return msg
}

// sortedMessagesLocked returns the conversation's messages newest first.
func (m *MemGoChatRepository) sortedMessagesLocked(conversationId string) []*memMessage {
	out := make([]*memMessage, 0)
	for _, msg := range m.messages {
		if msg.ConversationId == conversationId {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (m *MemGoChatRepository) GetMessage(id string) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return Message{}, sql.ErrNoRows
	}
	return copyMessage(msg.Message), nil
}

func (m *MemGoChatRepository) GetMessages(conversationId string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedMessagesLocked(conversationId)
	messages := make([]Message, 0, len(sorted))
	for _, msg := range sorted {
		messages = append(messages, copyMessage(msg.Message))
	}
	return messages, nil
}

func (m *MemGoChatRepository) DeleteMessage(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return sql.ErrNoRows
	}
	delete(m.messages, id)

	if c, ok := m.conversations[msg.ConversationId]; ok {
		var last *memMessage
		if remaining := m.sortedMessagesLocked(c.Id); len(remaining) > 0 {
			last = remaining[0]
		}
		m.setLastMessageLocked(c, last)
	}
	return nil
}

func (m *MemGoChatRepository) DeleteMessages(conversationId string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, msg := range m.messages {
		if msg.ConversationId == conversationId {
			delete(m.messages, id)
			n++
		}
	}
	if c, ok := m.conversations[conversationId]; ok && n > 0 {
		m.setLastMessageLocked(c, nil)
	}
	return n, nil
}

func (m *MemGoChatRepository) MarkMessagesRead(conversationId string, accountId int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for _, msg := range m.messages {
		if msg.ConversationId != conversationId || slices.Contains(msg.ReadBy, accountId) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, accountId)
		msg.UpdatedAt = now
		n++
	}
	return n, nil
}

func (m *MemGoChatRepository) LikeMessage(id string, accountId int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[id]
	if !ok {
		return false, sql.ErrNoRows
	}
	if slices.Contains(msg.LikedBy, accountId) {
		return false, nil
	}
	msg.LikedBy = append(msg.LikedBy, accountId)
	msg.UpdatedAt = m.now()
	return true, nil
}
