package database

import (
	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountsByIds(accountIds []int) ([]User, error) {
	args := m.Called(accountIds)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockGoChatRepository) GetConversation(id string) (Conversation, error) {
	args := m.Called(id)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) FindDirectConversation(userA, userB int) (Conversation, error) {
	args := m.Called(userA, userB)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) UpdateConversation(params UpdateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) RemoveMember(id string, accountId int) (Conversation, error) {
	args := m.Called(id, accountId)
	return args.Get(0).(Conversation), args.Error(1)
}
func (m *MockGoChatRepository) DeleteConversation(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) ListConversations(accountId int) ([]Conversation, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Conversation), args.Error(1)
}
func (m *MockGoChatRepository) CountUnread(accountId int, conversationIds []string) (map[string]int, error) {
	args := m.Called(accountId, conversationIds)
	return args.Get(0).(map[string]int), args.Error(1)
}
func (m *MockGoChatRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessage(id string) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockGoChatRepository) GetMessages(conversationId string) ([]Message, error) {
	args := m.Called(conversationId)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockGoChatRepository) DeleteMessage(id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) DeleteMessages(conversationId string) (int, error) {
	args := m.Called(conversationId)
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) MarkMessagesRead(conversationId string, accountId int) (int, error) {
	args := m.Called(conversationId, accountId)
	return args.Int(0), args.Error(1)
}
func (m *MockGoChatRepository) LikeMessage(id string, accountId int) (bool, error) {
	args := m.Called(id, accountId)
	return args.Bool(0), args.Error(1)
}
