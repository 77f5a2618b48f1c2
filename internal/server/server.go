package server

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/config"
	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/storage"
	"github.com/npezzotti/go-messenger/internal/upload"
)

const minSweepInterval = time.Second

// ChatServer owns the hub and the chat core and serves websocket
// sessions on top of them.
type ChatServer struct {
	log            *log.Logger
	hub            *Hub
	rooms          *rooms
	registry       *chat.Registry
	messages       *chat.Messages
	uploads        *upload.Reassembler
	assets         storage.AssetStore
	stats          stats.StatsProvider
	uploadTTL      time.Duration
	maxMessageSize int64
	stop           chan struct{}
	stopOnce       sync.Once
	running        atomic.Bool
	done           chan struct{}
}

func NewChatServer(logger *log.Logger, db database.GoChatRepository, assets storage.AssetStore, sp stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	cs := &ChatServer{
		log:            logger,
		hub:            NewHub(logger, sp),
		rooms:          newRooms(logger, idleRoomTimeout),
		uploads:        upload.NewReassembler(cfg.MaxChunks),
		assets:         assets,
		stats:          sp,
		uploadTTL:      cfg.UploadTTL,
		maxMessageSize: cfg.MaxMessageSize,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}

	cs.messages = chat.NewMessages(logger, db, assets)
	cs.registry = chat.NewRegistry(logger, db, cs.messages, assets, cs)

	for _, name := range []string{
		stats.NumActiveClients,
		stats.NumOnlineUsers,
		stats.TotalMessages,
		stats.DroppedUploads,
	} {
		sp.RegisterMetric(name)
	}

	return cs, nil
}

func (cs *ChatServer) Registry() *chat.Registry {
	return cs.registry
}

func (cs *ChatServer) Messages() *chat.Messages {
	return cs.messages
}

func (cs *ChatServer) Hub() *Hub {
	return cs.hub
}

// Connect activates a session for an already resolved identity: the
// client is registered, joins its inbox room and its pumps start.
func (cs *ChatServer) Connect(conn *websocket.Conn, identity auth.Identity) *Client {
	c := NewClient(identity, conn, cs, cs.log)
	cs.activate(c)

	go c.Write()
	go c.Read()
	return c
}

func (cs *ChatServer) activate(c *Client) {
	cs.hub.Register(c)
	cs.hub.Join(c, InboxRoom(c.identity.User.Email))
	c.state.Store(int32(StateActive))
	cs.log.Printf("connection %s opened for %q", c.id, c.identity.User.Email)
}

// RejectConnection tells a peer whose credential failed to resolve that
// its token expired and closes the transport.
func RejectConnection(conn *websocket.Conn) error {
	defer conn.Close()

	bytes, err := serializeMessage(TokenExpiredEvent())
	if err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token expired"))
}

func (cs *ChatServer) NotifyInbox(emails ...string) {
	seen := make(map[string]struct{}, len(emails))
	for _, email := range emails {
		if _, dup := seen[email]; dup || email == "" {
			continue
		}
		seen[email] = struct{}{}
		cs.hub.Emit(InboxRoom(email), InboxUpdatedEvent(), nil)
	}
}

func (cs *ChatServer) NotifyChatUpdated(conversationId string) {
	cs.hub.Emit(conversationId, ChatUpdatedEvent(conversationId), nil)
}

func (cs *ChatServer) EvictUser(conversationId string, userId int) {
	cs.hub.EvictUser(conversationId, userId)
}

func (cs *ChatServer) CloseRoom(conversationId string) {
	cs.hub.CloseRoom(conversationId)
}

// Run sweeps stalled uploads until Shutdown is called. Only the first call
// does anything.
func (cs *ChatServer) Run() {
	if !cs.running.CompareAndSwap(false, true) {
		return
	}
	defer close(cs.done)

	interval := cs.uploadTTL / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := cs.uploads.Sweep(cs.uploadTTL); n > 0 {
				cs.log.Printf("dropped %d stalled uploads", n)
				cs.stats.Add(stats.DroppedUploads, n)
			}
		case <-cs.stop:
			return
		}
	}
}

// Shutdown stops every session, the room goroutines and the janitor. It
// is safe to call more than once, and without Run having been started.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("received shutdown signal")

	for _, c := range cs.hub.Clients() {
		c.stopClient()
	}

	cs.stopOnce.Do(func() { close(cs.stop) })

	if err := cs.rooms.Close(ctx); err != nil {
		return err
	}

	if !cs.running.Load() {
		return nil
	}

	select {
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
