package database

import "errors"

var (
	// ErrDuplicateEmail is returned by CreateAccount when the email is taken.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrNotMember is returned by RemoveMember when the account is not in
	// the conversation.
	ErrNotMember = errors.New("not a conversation member")
)

// GoChatRepository is the persistence boundary of the chat core. Lookups
// of absent records return sql.ErrNoRows.
type GoChatRepository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (User, error)
	GetAccountById(accountId int) (User, error)
	GetAccountByEmail(email string) (User, error)
	GetAccountsByIds(accountIds []int) ([]User, error)
	GetConversation(id string) (Conversation, error)
	FindDirectConversation(userA, userB int) (Conversation, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	UpdateConversation(params UpdateConversationParams) (Conversation, error)
	// RemoveMember drops accountId from the conversation in a single step
	// and returns the conversation as left behind.
	RemoveMember(id string, accountId int) (Conversation, error)
	DeleteConversation(id string) error
	ListConversations(accountId int) ([]Conversation, error)
	CountUnread(accountId int, conversationIds []string) (map[string]int, error)
	CreateMessage(params CreateMessageParams) (Message, error)
	GetMessage(id string) (Message, error)
	GetMessages(conversationId string) ([]Message, error)
	DeleteMessage(id string) error
	DeleteMessages(conversationId string) (int, error)
	MarkMessagesRead(conversationId string, accountId int) (int, error)
	LikeMessage(id string, accountId int) (bool, error)
}
