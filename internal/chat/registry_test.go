package chat

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDirectDeduplicates(t *testing.T) {
	f := newFixture(t, 2)

	first, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)
	assert.False(t, first.IsGroup)
	assert.Equal(t, "user2", first.Name, "direct conversation takes the other member's name")
	assert.ElementsMatch(t, []string{"user1@example.com", "user2@example.com"}, f.notifier.inboxes)

	f.notifier.reset()

	second, err := f.registry.Resolve(1, []int{2, 2, 1}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Empty(t, f.notifier.inboxes, "resolving an existing conversation notifies nobody")

	fromOther, err := f.registry.Resolve(2, []int{1}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, first.Id, fromOther.Id)
	assert.Equal(t, "user1", fromOther.Name)

	list, err := f.db.ListConversations(1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResolveDirectConcurrent(t *testing.T) {
	f := newFixture(t, 2)

	var wg sync.WaitGroup
	ids := make([]string, 32)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			requester, target := 1, 2
			if i%2 == 1 {
				requester, target = 2, 1
			}
			conv, err := f.registry.Resolve(requester, []int{target}, "", nil)
			if assert.NoError(t, err) {
				ids[i] = conv.Id
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	list, err := f.db.ListConversations(1)
	require.NoError(t, err)
	assert.Len(t, list, 1, "concurrent resolution creates a single conversation")
}

func TestResolveValidation(t *testing.T) {
	f := newFixture(t, 3)

	tcases := []struct {
		name    string
		targets []int
		gname   string
		image   []byte
		err     error
	}{
		{name: "no targets", targets: nil, err: types.ErrBadRequest},
		{name: "only requester", targets: []int{1}, err: types.ErrBadRequest},
		{name: "unknown user", targets: []int{42}, err: types.ErrNotFound},
		{name: "group without name", targets: []int{2, 3}, image: []byte("img"), err: types.ErrBadRequest},
		{name: "group without image", targets: []int{2, 3}, gname: "team", err: types.ErrBadRequest},
		{name: "group with unknown user", targets: []int{2, 42}, gname: "team", image: []byte("img"), err: types.ErrNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.registry.Resolve(1, tc.targets, tc.gname, tc.image)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err), "expected %v, got %v", tc.err, err)
		})
	}

	assert.Empty(t, f.assets.files, "no image should be stored for rejected groups")
}

func TestResolveGroupAlwaysNew(t *testing.T) {
	f := newFixture(t, 3)

	g1, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)
	g2, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)

	assert.NotEqual(t, g1.Id, g2.Id)
	assert.True(t, g1.IsGroup)
	assert.Equal(t, "team", g1.Name)
	assert.NotEmpty(t, g1.Image)
	assert.Equal(t, []int{1}, g1.Admins)

	ids := make([]int, 0, len(g1.Members))
	for _, m := range g1.Members {
		ids = append(ids, m.Id)
	}
	assert.Equal(t, []int{1, 2, 3}, ids)
}

func TestLeaveAdminSuccession(t *testing.T) {
	f := newFixture(t, 3)

	g, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)
	f.notifier.reset()

	require.NoError(t, f.registry.Leave(g.Id, 1))

	conv, err := f.db.GetConversation(g.Id)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, conv.Members)
	assert.Equal(t, []int{2}, conv.Admins, "first remaining member becomes admin")

	assert.Equal(t, []int{1}, f.notifier.evicted[g.Id])
	assert.Equal(t, []string{g.Id}, f.notifier.updated)
	assert.ElementsMatch(t, []string{"user1@example.com", "user2@example.com", "user3@example.com"}, f.notifier.inboxes)
	assert.Empty(t, f.notifier.closed)
}

func TestLeaveCascade(t *testing.T) {
	f := newFixture(t, 3)

	direct, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)

	_, err = f.messages.Append(direct.Id, f.user(1), "hello", types.MessageTypeText)
	require.NoError(t, err)
	_, err = f.messages.Append(direct.Id, f.user(2), "/uploads/images/9", types.MessageTypeImage)
	require.NoError(t, err)

	f.notifier.reset()
	require.NoError(t, f.registry.Leave(direct.Id, 2))

	_, err = f.messages.Retrieve(1, direct.Id)
	assert.ErrorIs(t, err, types.ErrNotFound, "retrieving a deleted conversation yields not found")
	assert.Equal(t, []string{direct.Id}, f.notifier.closed)
	assert.Contains(t, f.assets.deleted, "/uploads/images/9", "media of deleted messages is removed")

	convs, err := f.registry.ListForUser(1)
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestLeaveGroupImageRemovedOnCascade(t *testing.T) {
	f := newFixture(t, 3)

	g, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)

	require.NoError(t, f.registry.Leave(g.Id, 1))
	require.NoError(t, f.registry.Leave(g.Id, 2))

	assert.Contains(t, f.assets.deleted, g.Image)
	assert.NotContains(t, f.assets.files, g.Image)
}

// slowRepo stretches conversation reads and writes so that concurrent
// callers overlap the way they do against a remote database.
type slowRepo struct {
	*database.MemGoChatRepository
	delay time.Duration
}

func (s slowRepo) GetConversation(id string) (database.Conversation, error) {
	conv, err := s.MemGoChatRepository.GetConversation(id)
	time.Sleep(s.delay)
	return conv, err
}

func (s slowRepo) UpdateConversation(params database.UpdateConversationParams) (database.Conversation, error) {
	time.Sleep(s.delay)
	return s.MemGoChatRepository.UpdateConversation(params)
}

func (s slowRepo) RemoveMember(id string, accountId int) (database.Conversation, error) {
	time.Sleep(s.delay)
	return s.MemGoChatRepository.RemoveMember(id, accountId)
}

func newSlowRegistry(t *testing.T, f *fixture) *Registry {
	t.Helper()

	repo := slowRepo{MemGoChatRepository: f.db, delay: 20 * time.Millisecond}
	logger := testutil.TestLogger(t)
	return NewRegistry(logger, repo, NewMessages(logger, repo, f.assets), f.assets, f.notifier)
}

func TestLeaveConcurrent(t *testing.T) {
	f := newFixture(t, 4)

	g, err := f.registry.Resolve(1, []int{2, 3, 4}, "team", []byte("img"))
	require.NoError(t, err)

	registry := newSlowRegistry(t, f)

	var wg sync.WaitGroup
	for _, id := range []int{1, 2} {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, registry.Leave(g.Id, id))
		}(id)
	}
	wg.Wait()

	conv, err := f.db.GetConversation(g.Id)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, conv.Members, "both leaves are applied")
	assert.Equal(t, []int{3}, conv.Admins)
	assert.Zero(t, registry.conversations.len(), "conversation locks are released")
}

func TestLeaveConcurrentWithUpdate(t *testing.T) {
	f := newFixture(t, 4)

	g, err := f.registry.Resolve(1, []int{2, 3, 4}, "team", []byte("img"))
	require.NoError(t, err)

	registry := newSlowRegistry(t, f)
	name := "renamed"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := registry.Update(g.Id, 1, UpdateParams{Name: &name})
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, registry.Leave(g.Id, 2))
	}()
	wg.Wait()

	conv, err := f.db.GetConversation(g.Id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", conv.Name)
	assert.Equal(t, []int{1, 3, 4}, conv.Members, "the rename does not restore the leaver")
}

func TestLeaveErrors(t *testing.T) {
	f := newFixture(t, 3)

	direct, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.registry.Leave("missing", 1), types.ErrNotFound)
	assert.ErrorIs(t, f.registry.Leave(direct.Id, 3), types.ErrForbidden)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t, 4)

	g, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)
	oldImage := g.Image

	t.Run("non admin cannot change membership", func(t *testing.T) {
		_, err := f.registry.Update(g.Id, 2, UpdateParams{Members: []int{1, 2}})
		assert.ErrorIs(t, err, types.ErrForbidden)
	})

	t.Run("non member", func(t *testing.T) {
		name := "x"
		_, err := f.registry.Update(g.Id, 4, UpdateParams{Name: &name})
		assert.ErrorIs(t, err, types.ErrForbidden)
	})

	t.Run("admins must be members", func(t *testing.T) {
		_, err := f.registry.Update(g.Id, 1, UpdateParams{Admins: []int{4}})
		assert.ErrorIs(t, err, types.ErrBadRequest)
	})

	t.Run("too few members", func(t *testing.T) {
		_, err := f.registry.Update(g.Id, 1, UpdateParams{Members: []int{1}})
		assert.ErrorIs(t, err, types.ErrBadRequest)
	})

	t.Run("unknown member", func(t *testing.T) {
		_, err := f.registry.Update(g.Id, 1, UpdateParams{Members: []int{1, 99}})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("replace members name and image", func(t *testing.T) {
		f.notifier.reset()
		name := "renamed"

		updated, err := f.registry.Update(g.Id, 1, UpdateParams{
			Name:    &name,
			Image:   []byte("new"),
			Members: []int{1, 2, 4},
		})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.NotEqual(t, oldImage, updated.Image)
		assert.Contains(t, f.assets.deleted, oldImage)
		assert.Equal(t, []int{1}, updated.Admins)

		assert.Equal(t, []int{3}, f.notifier.evicted[g.Id])
		assert.Equal(t, []string{g.Id}, f.notifier.updated)
		assert.ElementsMatch(t, []string{
			"user1@example.com", "user2@example.com", "user3@example.com", "user4@example.com",
		}, f.notifier.inboxes)
	})

	t.Run("removing the only admin promotes first member", func(t *testing.T) {
		updated, err := f.registry.Update(g.Id, 1, UpdateParams{Members: []int{2, 4}})
		require.NoError(t, err)
		assert.Equal(t, []int{2}, updated.Admins)
	})
}

func TestUpdateDirect(t *testing.T) {
	f := newFixture(t, 3)

	direct, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)

	_, err = f.registry.Update(direct.Id, 1, UpdateParams{Members: []int{1, 3}})
	assert.ErrorIs(t, err, types.ErrBadRequest)
}

func TestGet(t *testing.T) {
	f := newFixture(t, 3)

	direct, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)

	got, err := f.registry.Get(direct.Id, 2)
	require.NoError(t, err)
	assert.Equal(t, "user1", got.Name)
	assert.Equal(t, f.user(1).Avatar, got.Image)

	_, err = f.registry.Get(direct.Id, 3)
	assert.ErrorIs(t, err, types.ErrForbidden)

	_, err = f.registry.Get("missing", 1)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t, 3)

	direct, err := f.registry.Resolve(1, []int{2}, "", nil)
	require.NoError(t, err)
	group, err := f.registry.Resolve(1, []int{2, 3}, "team", []byte("img"))
	require.NoError(t, err)

	_, err = f.messages.Append(direct.Id, f.user(2), "hi there", types.MessageTypeText)
	require.NoError(t, err)
	_, err = f.messages.Append(direct.Id, f.user(2), "again", types.MessageTypeText)
	require.NoError(t, err)
	_, err = f.messages.Append(group.Id, f.user(1), "/uploads/videos/1", types.MessageTypeVideo)
	require.NoError(t, err)

	inbox, err := f.registry.ListForUser(1)
	require.NoError(t, err)
	require.Len(t, inbox, 2)

	assert.Equal(t, group.Id, inbox[0].Id, "most recently updated first")
	assert.Equal(t, "You: video", inbox[0].LastMessage)
	assert.False(t, inbox[0].Unread, "own message is never unread")
	assert.Equal(t, 0, inbox[0].UnreadCount)

	assert.Equal(t, direct.Id, inbox[1].Id)
	assert.Equal(t, "user2", inbox[1].Name)
	assert.Equal(t, "user2@example.com", inbox[1].Email)
	assert.Equal(t, "again", inbox[1].LastMessage)
	assert.True(t, inbox[1].Unread)
	assert.Equal(t, 2, inbox[1].UnreadCount)
	assert.NotNil(t, inbox[1].LastMessageTime)

	n, err := f.messages.MarkAllRead(direct.Id, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inbox, err = f.registry.ListForUser(1)
	require.NoError(t, err)
	assert.False(t, inbox[1].Unread)
	assert.Equal(t, 0, inbox[1].UnreadCount)

	other, err := f.registry.ListForUser(3)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "team", other[0].Name)
	assert.Equal(t, "video", other[0].LastMessage)
	assert.True(t, other[0].Unread)
}
