package chat

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/types"
)

// Notifier delivers the side effects of conversation changes to live
// connections.
type Notifier interface {
	NotifyInbox(emails ...string)
	NotifyChatUpdated(conversationId string)
	EvictUser(conversationId string, userId int)
	CloseRoom(conversationId string)
}

// notFound maps repository absence onto the shared taxonomy.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, types.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func toUser(u database.User) types.User {
	return types.User{
		Id:        u.Id,
		Name:      u.Name,
		Email:     u.EmailAddress,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func toSummary(u database.User) types.UserSummary {
	return types.UserSummary{Id: u.Id, Name: u.Name, Avatar: u.Avatar}
}

func accountsById(db database.GoChatRepository, ids []int) (map[int]database.User, error) {
	users, err := db.GetAccountsByIds(ids)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}

	byId := make(map[int]database.User, len(users))
	for _, u := range users {
		byId[u.Id] = u
	}
	return byId, nil
}

func summaries(ids []int, byId map[int]database.User) []types.UserSummary {
	out := make([]types.UserSummary, 0, len(ids))
	for _, id := range ids {
		if u, ok := byId[id]; ok {
			out = append(out, toSummary(u))
		} else {
			out = append(out, types.UserSummary{Id: id})
		}
	}
	return out
}

func emails(users []types.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Email)
	}
	return out
}

// dedup drops repeated ids and every id in exclude, keeping first
// occurrence order.
func dedup(ids []int, exclude ...int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if slices.Contains(exclude, id) || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func without(ids []int, id int) []int {
	out := make([]int, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
