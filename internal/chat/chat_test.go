package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/testutil"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	inboxes []string
	updated []string
	evicted map[string][]int
	closed  []string
}

func (n *recordingNotifier) NotifyInbox(emails ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes = append(n.inboxes, emails...)
}

func (n *recordingNotifier) NotifyChatUpdated(conversationId string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updated = append(n.updated, conversationId)
}

func (n *recordingNotifier) EvictUser(conversationId string, userId int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.evicted == nil {
		n.evicted = make(map[string][]int)
	}
	n.evicted[conversationId] = append(n.evicted[conversationId], userId)
}

func (n *recordingNotifier) CloseRoom(conversationId string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, conversationId)
}

func (n *recordingNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.inboxes = nil
	n.updated = nil
	n.evicted = nil
	n.closed = nil
}

type memAssets struct {
	mu      sync.Mutex
	next    int
	files   map[string][]byte
	deleted []string
}

func newMemAssets() *memAssets {
	return &memAssets{files: make(map[string][]byte)}
}

func (a *memAssets) Save(kind types.MessageType, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	ref := fmt.Sprintf("/uploads/%ss/%d", kind, a.next)
	a.files[ref] = data
	return ref, nil
}

func (a *memAssets) Delete(ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, ref)
	a.deleted = append(a.deleted, ref)
	return nil
}

type fixture struct {
	db       *database.MemGoChatRepository
	notifier *recordingNotifier
	assets   *memAssets
	messages *Messages
	registry *Registry
	users    []types.User
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()

	db := database.NewMemGoChatRepository()
	f := &fixture{
		db:       db,
		notifier: &recordingNotifier{},
		assets:   newMemAssets(),
	}

	logger := testutil.TestLogger(t)
	f.messages = NewMessages(logger, db, f.assets)
	f.registry = NewRegistry(logger, db, f.messages, f.assets, f.notifier)

	for i := 1; i <= n; i++ {
		u, err := db.CreateAccount(database.CreateAccountParams{
			Name:         fmt.Sprintf("user%d", i),
			EmailAddress: fmt.Sprintf("user%d@example.com", i),
			Avatar:       fmt.Sprintf("/uploads/images/avatar%d.jpg", i),
			PasswordHash: "hash",
		})
		require.NoError(t, err)
		f.users = append(f.users, toUser(u))
	}

	return f
}

func (f *fixture) user(i int) types.User {
	return f.users[i-1]
}
