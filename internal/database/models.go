package database

import "time"

type User struct {
	Id           int
	Name         string
	EmailAddress string
	Avatar       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	Id                 string
	Name               string
	Image              string
	IsGroup            bool
	Members            []int
	Admins             []int
	LastMessageId      string
	LastMessageContent string
	LastMessageType    string
	LastMessageSender  int
	LastMessageReadBy  []int
	LastMessageAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasMember reports whether userId is in the conversation's member set.
func (c Conversation) HasMember(userId int) bool {
	for _, id := range c.Members {
		if id == userId {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userId is in the conversation's admin set.
func (c Conversation) IsAdmin(userId int) bool {
	for _, id := range c.Admins {
		if id == userId {
			return true
		}
	}
	return false
}

// withoutMember returns the member and admin sets of c once accountId is
// gone. A group left without admins promotes its first remaining member.
func withoutMember(c Conversation, accountId int) (members, admins []int) {
	members = make([]int, 0, len(c.Members))
	for _, id := range c.Members {
		if id != accountId {
			members = append(members, id)
		}
	}

	admins = make([]int, 0, len(c.Admins))
	for _, id := range c.Admins {
		if id != accountId {
			admins = append(admins, id)
		}
	}
	if c.IsGroup && len(admins) == 0 && len(members) > 0 {
		admins = append(admins, members[0])
	}

	return members, admins
}

type Message struct {
	Id             string
	ConversationId string
	SenderId       int
	Content        string
	Type           string
	ReadBy         []int
	LikedBy        []int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type CreateAccountParams struct {
	Name         string
	EmailAddress string
	Avatar       string
	PasswordHash string
}

type CreateConversationParams struct {
	Id      string
	Name    string
	Image   string
	IsGroup bool
	Members []int
	Admins  []int
}

type UpdateConversationParams struct {
	Id      string
	Name    string
	Image   string
	Members []int
	Admins  []int
}

type CreateMessageParams struct {
	Id             string
	ConversationId string
	SenderId       int
	Content        string
	Type           string
	CreatedAt      time.Time
}
