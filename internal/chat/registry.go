package chat

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/storage"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/teris-io/shortid"
	"golang.org/x/sync/singleflight"
)

const youPrefix = "You: "

// Membership is a conversation together with the accounts of its members,
// as resolved for one requester.
type Membership struct {
	Conversation database.Conversation
	Members      []types.User
}

func (m Membership) Emails() []string {
	return emails(m.Members)
}

// UpdateParams carries the optional changes of Registry.Update. Nil fields
// are left unchanged.
type UpdateParams struct {
	Name    *string
	Image   []byte
	Members []int
	Admins  []int
}

// Registry owns conversation lifecycle: creation, membership changes and
// the per-user inbox view.
type Registry struct {
	log             *log.Logger
	db              database.GoChatRepository
	messages        *Messages
	assets          storage.AssetStore
	notifier        Notifier
	generateShortId func() (string, error)
	pairs           singleflight.Group
	conversations   keyedMutex
}

func NewRegistry(logger *log.Logger, db database.GoChatRepository, messages *Messages, assets storage.AssetStore, notifier Notifier) *Registry {
	return &Registry{
		log:             logger,
		db:              db,
		messages:        messages,
		assets:          assets,
		notifier:        notifier,
		generateShortId: shortid.Generate,
	}
}

func (r *Registry) membership(conv database.Conversation) (Membership, error) {
	users, err := r.db.GetAccountsByIds(conv.Members)
	if err != nil {
		return Membership{}, fmt.Errorf("get members: %w", err)
	}

	m := Membership{Conversation: conv, Members: make([]types.User, 0, len(users))}
	for _, u := range users {
		m.Members = append(m.Members, toUser(u))
	}
	return m, nil
}

// Authorize loads a conversation for one of its members.
func (r *Registry) Authorize(conversationId string, userId int) (Membership, error) {
	conv, err := r.db.GetConversation(conversationId)
	if err != nil {
		return Membership{}, notFound(err, "get conversation")
	}
	if !conv.HasMember(userId) {
		return Membership{}, fmt.Errorf("user %d not in conversation %q: %w", userId, conversationId, types.ErrForbidden)
	}
	return r.membership(conv)
}

// Resolve returns the direct conversation between requester and a single
// target, creating it on first use, or creates a new group for several
// targets.
func (r *Registry) Resolve(requesterId int, targetIds []int, name string, image []byte) (types.Conversation, error) {
	targets := dedup(targetIds, requesterId)
	if len(targets) == 0 {
		return types.Conversation{}, fmt.Errorf("no target users: %w", types.ErrBadRequest)
	}

	found, err := r.db.GetAccountsByIds(targets)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("get accounts: %w", err)
	}
	if len(found) != len(targets) {
		return types.Conversation{}, fmt.Errorf("user not found: %w", types.ErrNotFound)
	}

	if len(targets) == 1 {
		conv, err := r.direct(requesterId, targets[0])
		if err != nil {
			return types.Conversation{}, err
		}
		return r.view(conv, requesterId)
	}

	name = strings.TrimSpace(name)
	if name == "" || len(image) == 0 {
		return types.Conversation{}, fmt.Errorf("group needs a name and an image: %w", types.ErrBadRequest)
	}

	ref, err := r.assets.Save(types.MessageTypeImage, image)
	if err != nil {
		return types.Conversation{}, fmt.Errorf("save group image: %w", err)
	}

	conv, err := r.create(database.CreateConversationParams{
		Name:    name,
		Image:   ref,
		IsGroup: true,
		Members: append([]int{requesterId}, targets...),
		Admins:  []int{requesterId},
	}, requesterId)
	if err != nil {
		r.deleteImage(ref)
		return types.Conversation{}, err
	}
	return conv, nil
}

// direct finds or creates the conversation between a and b. Concurrent
// calls for the same pair share a single lookup.
func (r *Registry) direct(a, b int) (database.Conversation, error) {
	key := fmt.Sprintf("%d:%d", min(a, b), max(a, b))
	v, err, _ := r.pairs.Do(key, func() (any, error) {
		existing, err := r.db.FindDirectConversation(a, b)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("find conversation: %w", err)
		}

		m, err := r.insert(database.CreateConversationParams{Members: []int{a, b}})
		if err != nil {
			return nil, err
		}
		return m.Conversation, nil
	})
	if err != nil {
		return database.Conversation{}, err
	}
	return v.(database.Conversation), nil
}

func (r *Registry) create(params database.CreateConversationParams, requesterId int) (types.Conversation, error) {
	m, err := r.insert(params)
	if err != nil {
		return types.Conversation{}, err
	}
	return viewOf(m, requesterId), nil
}

func (r *Registry) insert(params database.CreateConversationParams) (Membership, error) {
	id, err := r.generateShortId()
	if err != nil {
		return Membership{}, fmt.Errorf("generate conversation id: %w", err)
	}
	params.Id = id

	conv, err := r.db.CreateConversation(params)
	if err != nil {
		return Membership{}, fmt.Errorf("create conversation: %w", err)
	}

	m, err := r.membership(conv)
	if err != nil {
		return Membership{}, err
	}
	r.notifier.NotifyInbox(m.Emails()...)
	return m, nil
}

// Leave removes userId from a conversation. A conversation left with fewer
// than two members is deleted together with its messages.
func (r *Registry) Leave(conversationId string, userId int) error {
	unlock := r.conversations.Lock(conversationId)
	defer unlock()

	m, err := r.Authorize(conversationId, userId)
	if err != nil {
		return err
	}

	conv, err := r.db.RemoveMember(conversationId, userId)
	if errors.Is(err, database.ErrNotMember) {
		return fmt.Errorf("user %d is not a member of %q: %w", userId, conversationId, types.ErrForbidden)
	}
	if err != nil {
		return notFound(err, "remove member")
	}

	if len(conv.Members) < 2 {
		if _, err := r.messages.DeleteCascade(conv.Id); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := r.db.DeleteConversation(conv.Id); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		r.deleteImage(conv.Image)

		r.notifier.NotifyChatUpdated(conv.Id)
		r.notifier.CloseRoom(conv.Id)
		r.notifier.NotifyInbox(m.Emails()...)
		return nil
	}

	r.notifier.EvictUser(conv.Id, userId)
	r.notifier.NotifyChatUpdated(conv.Id)
	r.notifier.NotifyInbox(m.Emails()...)
	return nil
}

// Update changes a conversation's name, image or membership. Only admins
// may change the membership of a group; direct conversations keep theirs.
func (r *Registry) Update(conversationId string, requesterId int, params UpdateParams) (types.Conversation, error) {
	unlock := r.conversations.Lock(conversationId)
	defer unlock()

	m, err := r.Authorize(conversationId, requesterId)
	if err != nil {
		return types.Conversation{}, err
	}
	conv := m.Conversation

	changesMembership := params.Members != nil || params.Admins != nil
	if changesMembership && !conv.IsGroup {
		return types.Conversation{}, fmt.Errorf("direct conversations cannot change membership: %w", types.ErrBadRequest)
	}
	if changesMembership && !conv.IsAdmin(requesterId) {
		return types.Conversation{}, fmt.Errorf("user %d is not an admin: %w", requesterId, types.ErrForbidden)
	}

	update := database.UpdateConversationParams{
		Id:      conv.Id,
		Name:    conv.Name,
		Image:   conv.Image,
		Members: conv.Members,
		Admins:  conv.Admins,
	}

	if params.Name != nil {
		name := strings.TrimSpace(*params.Name)
		if conv.IsGroup && name == "" {
			return types.Conversation{}, fmt.Errorf("group name cannot be empty: %w", types.ErrBadRequest)
		}
		update.Name = name
	}

	if params.Members != nil {
		members := dedup(params.Members)
		if len(members) < 2 {
			return types.Conversation{}, fmt.Errorf("a conversation needs at least two members: %w", types.ErrBadRequest)
		}
		found, err := r.db.GetAccountsByIds(members)
		if err != nil {
			return types.Conversation{}, fmt.Errorf("get accounts: %w", err)
		}
		if len(found) != len(members) {
			return types.Conversation{}, fmt.Errorf("user not found: %w", types.ErrNotFound)
		}
		update.Members = members
	}

	if params.Admins != nil {
		admins := dedup(params.Admins)
		if len(admins) == 0 {
			return types.Conversation{}, fmt.Errorf("a group needs at least one admin: %w", types.ErrBadRequest)
		}
		for _, id := range admins {
			if !slices.Contains(update.Members, id) {
				return types.Conversation{}, fmt.Errorf("admin %d is not a member: %w", id, types.ErrBadRequest)
			}
		}
		update.Admins = admins
	} else if conv.IsGroup {
		admins := make([]int, 0, len(update.Admins))
		for _, id := range update.Admins {
			if slices.Contains(update.Members, id) {
				admins = append(admins, id)
			}
		}
		if len(admins) == 0 {
			admins = []int{update.Members[0]}
		}
		update.Admins = admins
	}

	var newImage string
	if len(params.Image) > 0 {
		newImage, err = r.assets.Save(types.MessageTypeImage, params.Image)
		if err != nil {
			return types.Conversation{}, fmt.Errorf("save image: %w", err)
		}
		update.Image = newImage
	}

	updated, err := r.db.UpdateConversation(update)
	if err != nil {
		r.deleteImage(newImage)
		return types.Conversation{}, notFound(err, "update conversation")
	}

	if newImage != "" {
		r.deleteImage(conv.Image)
	}

	for _, id := range conv.Members {
		if !slices.Contains(updated.Members, id) {
			r.notifier.EvictUser(conv.Id, id)
		}
	}

	after, err := r.membership(updated)
	if err != nil {
		return types.Conversation{}, err
	}

	r.notifier.NotifyChatUpdated(conv.Id)
	r.notifier.NotifyInbox(emails(mergeUsers(m.Members, after.Members))...)

	return viewOf(after, requesterId), nil
}

// Get returns a single conversation as seen by one of its members.
func (r *Registry) Get(conversationId string, requesterId int) (types.Conversation, error) {
	m, err := r.Authorize(conversationId, requesterId)
	if err != nil {
		return types.Conversation{}, err
	}
	return viewOf(m, requesterId), nil
}

// ListForUser builds userId's inbox, most recently updated conversation
// first.
func (r *Registry) ListForUser(userId int) ([]types.InboxEntry, error) {
	convs, err := r.db.ListConversations(userId)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	ids := make([]string, 0, len(convs))
	others := make([]int, 0)
	for _, c := range convs {
		ids = append(ids, c.Id)
		if !c.IsGroup {
			others = append(others, without(c.Members, userId)...)
		}
	}

	unread, err := r.db.CountUnread(userId, ids)
	if err != nil {
		return nil, fmt.Errorf("count unread: %w", err)
	}

	byId, err := accountsById(r.db, dedup(others))
	if err != nil {
		return nil, err
	}

	entries := make([]types.InboxEntry, 0, len(convs))
	for _, c := range convs {
		entry := types.InboxEntry{
			Id:              c.Id,
			Name:            c.Name,
			Image:           c.Image,
			IsGroup:         c.IsGroup,
			Members:         c.Members,
			Admins:          c.Admins,
			LastMessage:     preview(c, userId),
			LastMessageTime: c.LastMessageAt,
			Unread: c.LastMessageId != "" &&
				c.LastMessageSender != userId &&
				!slices.Contains(c.LastMessageReadBy, userId),
			UnreadCount: unread[c.Id],
			UpdatedAt:   c.UpdatedAt,
		}

		if !c.IsGroup {
			if other, ok := byId[firstOther(c.Members, userId)]; ok {
				entry.Name = other.Name
				entry.Image = other.Avatar
				entry.Email = other.EmailAddress
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func (r *Registry) view(conv database.Conversation, requesterId int) (types.Conversation, error) {
	m, err := r.membership(conv)
	if err != nil {
		return types.Conversation{}, err
	}
	return viewOf(m, requesterId), nil
}

func (r *Registry) deleteImage(ref string) {
	if ref == "" {
		return
	}
	if err := r.assets.Delete(ref); err != nil {
		r.log.Printf("delete image %q: %v", ref, err)
	}
}

func viewOf(m Membership, requesterId int) types.Conversation {
	conv := m.Conversation

	byId := make(map[int]types.User, len(m.Members))
	for _, u := range m.Members {
		byId[u.Id] = u
	}

	members := make([]types.UserSummary, 0, len(conv.Members))
	for _, id := range conv.Members {
		u := byId[id]
		members = append(members, types.UserSummary{Id: id, Name: u.Name, Avatar: u.Avatar})
	}

	v := types.Conversation{
		Id:          conv.Id,
		Name:        conv.Name,
		Image:       conv.Image,
		IsGroup:     conv.IsGroup,
		Members:     members,
		Admins:      conv.Admins,
		LastMessage: preview(conv, requesterId),
		CreatedAt:   conv.CreatedAt,
		UpdatedAt:   conv.UpdatedAt,
	}

	if !conv.IsGroup {
		if other, ok := byId[firstOther(conv.Members, requesterId)]; ok {
			v.Name = other.Name
			v.Image = other.Avatar
		}
	}

	return v
}

func preview(c database.Conversation, userId int) string {
	if c.LastMessageId == "" {
		return ""
	}

	text := c.LastMessageContent
	if types.MessageType(c.LastMessageType).IsMedia() {
		text = c.LastMessageType
	}
	if c.LastMessageSender == userId {
		text = youPrefix + text
	}
	return text
}

func firstOther(members []int, userId int) int {
	for _, id := range members {
		if id != userId {
			return id
		}
	}
	return 0
}

func mergeUsers(a, b []types.User) []types.User {
	out := slices.Clone(a)
	for _, u := range b {
		if !slices.ContainsFunc(out, func(v types.User) bool { return v.Id == u.Id }) {
			out = append(out, u)
		}
	}
	return out
}
