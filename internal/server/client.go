package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/auth"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	sendBuffer   = 256
)

type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

var errLogout = errors.New("logout")

// Client is one websocket connection of an authenticated user.
type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	identity   auth.Identity
	send       chan *ServerMessage
	stop       chan struct{}
	stopOnce   sync.Once
	state      atomic.Int32
	now        func() time.Time
}

func NewClient(identity auth.Identity, conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	c := &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		identity:   identity,
		send:       make(chan *ServerMessage, sendBuffer),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	c.state.Store(int32(StateAuthenticated))
	return c
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() types.User {
	return c.identity.User
}

func (c *Client) userId() int {
	return c.identity.User.Id
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			if !c.writeServerMessage(msg) {
				return
			}
		case <-c.stop:
			c.flush()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flush writes whatever is still queued so a final event such as
// tokenExpired reaches the peer before the close frame.
func (c *Client) flush() {
	for {
		select {
		case msg := <-c.send:
			if !c.writeServerMessage(msg) {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) writeServerMessage(msg *ServerMessage) bool {
	bytes, err := serializeMessage(msg)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return true
	}
	return c.sendMessage(websocket.TextMessage, bytes)
}

func (c *Client) Read() {
	defer func() {
		c.cleanup()
	}()

	c.conn.SetReadLimit(c.chatServer.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		if !c.handleRaw(raw) {
			return
		}
	}
}

// handleRaw decodes and dispatches one frame. It returns false once the
// connection must close.
func (c *Client) handleRaw(raw []byte) bool {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.log.Println("error parsing message:", err)
		c.queueMessage(ErrInvalidMessage(-1))
		return true
	}

	if err := msg.Validate(); err != nil {
		c.log.Printf("invalid message %d from %q: %v", msg.Id, c.identity.User.Email, err)
		c.queueMessage(ErrInvalidMessage(msg.Id))
		return true
	}

	msg.Timestamp = Now()
	return c.handle(&msg)
}

// handle runs one validated event. Failures are logged and acknowledged;
// only logout and an expired credential end the session.
func (c *Client) handle(msg *ClientMessage) (keepOpen bool) {
	if c.State() != StateActive {
		return false
	}

	if c.identity.Expired(c.now()) {
		c.log.Printf("token expired for %q", c.identity.User.Email)
		c.queueMessage(TokenExpiredEvent())
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("panic handling %s from %q: %v", msg.Kind(), c.identity.User.Email, r)
			c.queueMessage(ErrInternalError(msg.Id))
			keepOpen = true
		}
	}()

	err := c.dispatch(msg)
	if errors.Is(err, errLogout) {
		c.queueMessage(NoErrOK(msg.Id, nil))
		return false
	}
	if err != nil {
		c.log.Printf("%s: %v", msg.Kind(), err)
		c.queueMessage(ErrResponse(msg.Id, err))
	}
	return true
}

func (c *Client) dispatch(msg *ClientMessage) error {
	switch {
	case msg.SubscribeToInbox != nil:
		return c.subscribeToInbox(msg)
	case msg.SubscribeToChat != nil:
		return c.subscribeToChat(msg)
	case msg.UnsubscribeFromChat != nil:
		return c.unsubscribeFromChat(msg)
	case msg.SendMessage != nil:
		return c.sendChatMessage(msg)
	case msg.DeleteMessage != nil:
		return c.deleteMessage(msg)
	case msg.MarkAllMessagesAsRead != nil:
		return c.markAllRead(msg)
	case msg.LikeMessage != nil:
		return c.likeMessage(msg)
	case msg.Typing != nil:
		return c.typing(msg)
	case msg.Logout != nil:
		return errLogout
	}
	return errInvalidEnvelope
}

func (c *Client) queueMessage(msg *ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// cleanup moves the client to Closed and releases its hub entries. Safe
// to call more than once.
func (c *Client) cleanup() {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	c.chatServer.hub.Unregister(c)
	c.stopClient()
}
