package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-messenger/internal/chat"
	"github.com/npezzotti/go-messenger/internal/server"
	"github.com/npezzotti/go-messenger/internal/types"
)

type ResolveChatRequest struct {
	UserIds []int  `json:"user_ids"`
	Name    string `json:"name,omitempty"`
	Image   []byte `json:"image,omitempty"`
}

// UpdateChatRequest carries optional changes; omitted fields are kept.
type UpdateChatRequest struct {
	Name    *string `json:"name,omitempty"`
	Image   []byte  `json:"image,omitempty"`
	Members []int   `json:"members,omitempty"`
	Admins  []int   `json:"admins,omitempty"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeError(w http.ResponseWriter, op string, err error) {
	errResp := errorFor(err)
	if errResp.StatusCode == http.StatusInternalServerError {
		s.log.Printf("%s: %v", op, err)
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) resolveChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req ResolveChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.cs.Registry().Resolve(identity.User.Id, req.UserIds, req.Name, req.Image)
	if err != nil {
		s.writeError(w, "resolve chat", err)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) listChats(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	inbox, err := s.cs.Registry().ListForUser(identity.User.Id)
	if err != nil {
		s.writeError(w, "list chats", err)
		return
	}

	if inbox == nil {
		inbox = []types.InboxEntry{}
	}
	s.writeJson(w, http.StatusOK, inbox)
}

func (s *GoChatApp) getChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.cs.Registry().Get(r.PathValue("id"), identity.User.Id)
	if err != nil {
		s.writeError(w, "get chat", err)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) updateChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	conv, err := s.cs.Registry().Update(r.PathValue("id"), identity.User.Id, chat.UpdateParams{
		Name:    req.Name,
		Image:   req.Image,
		Members: req.Members,
		Admins:  req.Admins,
	})
	if err != nil {
		s.writeError(w, "update chat", err)
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *GoChatApp) leaveChat(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.cs.Registry().Leave(r.PathValue("id"), identity.User.Id); err != nil {
		s.writeError(w, "leave chat", err)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *GoChatApp) getMessages(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	chatId := r.URL.Query().Get("chatId")
	if chatId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	messages, err := s.cs.Messages().Retrieve(identity.User.Id, chatId)
	if err != nil {
		s.writeError(w, "get messages", err)
		return
	}

	if messages == nil {
		messages = []types.Message{}
	}
	s.writeJson(w, http.StatusOK, messages)
}

// serveWs upgrades first and resolves the credential afterwards so a
// failed resolution can be reported over the socket as tokenExpired.
func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	identity, err := s.resolve(r)
	if err != nil {
		s.log.Printf("reject websocket: %v", err)
		if err := server.RejectConnection(conn); err != nil {
			s.log.Printf("reject websocket: %v", err)
		}
		return
	}

	s.cs.Connect(conn, identity)
}
