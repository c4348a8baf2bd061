package api

import (
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"sozuri-connect/internal/db"
	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
	"sozuri-connect/internal/websocket"
)

const defaultMimeType = "application/octet-stream"

type Handlers struct {
	db       *db.DB
	hub      *websocket.Hub
	secret   []byte
	log      *logger.Logger
	upgrader gorilla.Upgrader
	now      func() time.Time
}

func NewHandlers(database *db.DB, hub *websocket.Hub, secret string, allowedOrigins []string, log *logger.Logger) *Handlers {
	if log == nil {
		log = logger.Nop()
	}
	return &Handlers{
		db:     database,
		hub:    hub,
		secret: []byte(secret),
		log:    log.Component("api"),
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		now: time.Now,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// not a browser
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (h *Handlers) publish(ev realtime.Event) {
	if err := h.hub.Publish(ev); err != nil {
		h.log.Warn().Err(err).Str("type", string(ev.Type())).Msg("failed to publish event")
	}
}

// Auth

func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	agent, hash, err := h.db.GetAgentByEmail(req.Email)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			h.writeStoreError(w, err)
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	token, err := issueToken(h.secret, agent, h.now())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to sign token")
		writeError(w, http.StatusInternalServerError, "internal", "failed to create token")
		return
	}
	h.log.Info().Str("agent_id", agent.ID).Msg("agent logged in")
	writeJSON(w, http.StatusOK, models.LoginResponse{Token: token, Agent: *agent})
}

// Conversations

func (h *Handlers) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	status := models.ConversationStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+string(status))
		return
	}
	conversations, err := h.db.ListConversations(status)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conversations)
}

func (h *Handlers) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := h.db.GetConversation(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateConversationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "customer.name is required")
		return
	}

	conv, err := h.db.CreateConversation(req)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if req.Message != "" {
		msg, err := h.db.CreateMessage(conv.ID, models.SenderUser, conv.Customer.ID, req.Message, nil)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		conv.LastMessage = msg
		conv.UpdatedAt = msg.Timestamp
		h.publish(realtime.MessageEvent{Message: *msg})
	}
	h.publish(realtime.ConversationUpdateEvent{Conversation: *conv})
	writeJSON(w, http.StatusCreated, conv)
}

func (h *Handlers) HandleUpdateConversationStatus(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+string(req.Status))
		return
	}
	conv, err := h.db.UpdateConversationStatus(chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.publish(realtime.ConversationUpdateEvent{Conversation: *conv})
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) HandleAssignAgent(w http.ResponseWriter, r *http.Request) {
	var req models.AssignAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		req.AgentID = claimsFrom(r.Context()).AgentID
	}
	conv, err := h.db.AssignAgent(chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.publish(realtime.ConversationUpdateEvent{Conversation: *conv})
	writeJSON(w, http.StatusOK, conv)
}

// Messages

func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := h.db.ListMessages(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	h.createMessage(w, r, models.SenderAgent, claims.AgentID)
}

// createMessage stores a message from the request body and broadcasts it.
func (h *Handlers) createMessage(w http.ResponseWriter, r *http.Request, sender models.SenderType, senderID string) {
	var req models.SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "content or attachments required")
		return
	}

	conversationID := chi.URLParam(r, "id")
	if sender == models.SenderUser {
		conv, err := h.db.GetConversation(conversationID)
		if err != nil {
			h.writeStoreError(w, err)
			return
		}
		senderID = conv.Customer.ID
	}

	msg, err := h.db.CreateMessage(conversationID, sender, senderID, req.Content, attachmentsFromURLs(req.Attachments))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.publish(realtime.MessageEvent{Message: *msg})
	writeJSON(w, http.StatusCreated, msg)
}

// attachmentsFromURLs describes each URL by its file name and extension.
func attachmentsFromURLs(urls []string) []models.Attachment {
	if len(urls) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(urls))
	for _, raw := range urls {
		name := raw
		if u, err := url.Parse(raw); err == nil && u.Path != "" {
			name = path.Base(u.Path)
		}
		mimeType := mime.TypeByExtension(path.Ext(name))
		if mimeType == "" {
			mimeType = defaultMimeType
		}
		out = append(out, models.Attachment{Filename: name, URL: raw, MimeType: mimeType})
	}
	return out
}

// Chatbots

func (h *Handlers) HandleListChatbots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.db.ListChatbots()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bots)
}

func (h *Handlers) HandleGetChatbot(w http.ResponseWriter, r *http.Request) {
	bot, err := h.db.GetChatbot(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func (h *Handlers) HandleCreateChatbot(w http.ResponseWriter, r *http.Request) {
	var req models.ChatbotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validChatbot(w, req) {
		return
	}
	bot, err := h.db.CreateChatbot(req)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bot)
}

func (h *Handlers) HandleUpdateChatbot(w http.ResponseWriter, r *http.Request) {
	var req models.ChatbotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !validChatbot(w, req) {
		return
	}
	bot, err := h.db.UpdateChatbot(chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bot)
}

func validChatbot(w http.ResponseWriter, req models.ChatbotRequest) bool {
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return false
	}
	if req.Status != "" && req.Status != models.ChatbotActive && req.Status != models.ChatbotInactive {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+string(req.Status))
		return false
	}
	return true
}

func (h *Handlers) HandleDeleteChatbot(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteChatbot(chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleChatbotMessage posts a message as the bot into a conversation.
func (h *Handlers) HandleChatbotMessage(w http.ResponseWriter, r *http.Request) {
	var req models.ChatbotMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ConversationID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "conversation_id and content are required")
		return
	}
	bot, err := h.db.GetChatbot(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if bot.Status != models.ChatbotActive {
		writeError(w, http.StatusConflict, "chatbot_inactive", "chatbot is not active")
		return
	}
	msg, err := h.db.CreateMessage(req.ConversationID, models.SenderBot, bot.ID, req.Content, nil)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.publish(realtime.MessageEvent{Message: *msg})
	writeJSON(w, http.StatusCreated, msg)
}

// Agents

func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.db.ListAgents()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.db.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_request", "name, email and a password of at least 8 characters are required")
		return
	}
	switch req.Role {
	case "", models.RoleAgent, models.RoleSupervisor, models.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown role "+string(req.Role))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	agent, err := h.db.CreateAgent(req, string(hash))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateAgentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	agent, err := h.db.UpdateAgent(chi.URLParam(r, "id"), req)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteAgent(chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetAgentStatus lets agents change their own status; admins and
// supervisors may change anyone's.
func (h *Handlers) HandleSetAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req models.SetAgentStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown status "+string(req.Status))
		return
	}
	id := chi.URLParam(r, "id")
	claims := claimsFrom(r.Context())
	if id != claims.AgentID && claims.Role != models.RoleAdmin && claims.Role != models.RoleSupervisor {
		writeError(w, http.StatusForbidden, "forbidden", "cannot change another agent's status")
		return
	}
	agent, err := h.db.SetAgentStatus(id, req.Status)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.publish(realtime.AgentStatusEvent{AgentID: agent.ID, Status: agent.Status})
	writeJSON(w, http.StatusOK, agent)
}

// API keys

func (h *Handlers) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.db.ListAPIKeys()
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

func (h *Handlers) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAPIKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	key, err := h.db.CreateAPIKey(req.Name)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

func (h *Handlers) HandleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteAPIKey(chi.URLParam(r, "id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleRegenerateAPIKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.db.RegenerateAPIKey(chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, key)
}

// Widget

func (h *Handlers) HandleWidgetMessage(w http.ResponseWriter, r *http.Request) {
	h.createMessage(w, r, models.SenderUser, "")
}

// WebSocket handler
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	h.log.Info().Str("agent_id", claims.AgentID).Msg("websocket authenticated")

	client := websocket.NewClient(h.hub, conn, claims.AgentID)
	h.hub.Register <- client

	go client.WritePump()
	go client.ReadPump()
}
