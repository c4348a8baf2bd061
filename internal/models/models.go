package models

import (
	"encoding/json"
	"time"
)

type ConversationStatus string

const (
	ConversationActive      ConversationStatus = "active"
	ConversationWaiting     ConversationStatus = "waiting"
	ConversationResolved    ConversationStatus = "resolved"
	ConversationTransferred ConversationStatus = "transferred"
)

// Valid reports whether s is one of the known lifecycle states.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationWaiting, ConversationResolved, ConversationTransferred:
		return true
	}
	return false
}

type SenderType string

const (
	SenderUser  SenderType = "user"
	SenderAgent SenderType = "agent"
	SenderBot   SenderType = "bot"
)

type AgentRole string

const (
	RoleAdmin      AgentRole = "admin"
	RoleSupervisor AgentRole = "supervisor"
	RoleAgent      AgentRole = "agent"
)

type AgentStatus string

const (
	AgentOnline  AgentStatus = "online"
	AgentOffline AgentStatus = "offline"
	AgentAway    AgentStatus = "away"
)

func (s AgentStatus) Valid() bool {
	return s == AgentOnline || s == AgentOffline || s == AgentAway
}

type Customer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`
}

type Agent struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Email    string                 `json:"email"`
	Role     AgentRole              `json:"role"`
	Status   AgentStatus            `json:"status"`
	Avatar   string                 `json:"avatar,omitempty"`
	Skills   []string               `json:"skills,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

type Conversation struct {
	ID          string                 `json:"id"`
	Customer    Customer               `json:"customer"`
	Agent       *Agent                 `json:"agent,omitempty"`
	Status      ConversationStatus     `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	LastMessage *ChatMessage           `json:"last_message,omitempty"`
	Tags        []string               `json:"tags,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type ChatMessage struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderType     SenderType    `json:"sender_type"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Timestamp      time.Time     `json:"timestamp"`
	Status         MessageStatus `json:"status"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
}

type ChatbotStatus string

const (
	ChatbotActive   ChatbotStatus = "active"
	ChatbotInactive ChatbotStatus = "inactive"
)

type Chatbot struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ChatbotStatus `json:"status"`
	Greeting    string        `json:"greeting,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type APIKey struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
	// Key is only populated by create and regenerate.
	Key        string     `json:"key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Request/Response structures
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
	Agent Agent  `json:"agent"`
}

type RegisterAgentRequest struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Password string    `json:"password"`
	Role     AgentRole `json:"role"`
	Avatar   string    `json:"avatar,omitempty"`
	Skills   []string  `json:"skills,omitempty"`
}

type UpdateAgentRequest struct {
	Name   *string    `json:"name,omitempty"`
	Role   *AgentRole `json:"role,omitempty"`
	Avatar *string    `json:"avatar,omitempty"`
	Skills []string   `json:"skills,omitempty"`
}

type CreateConversationRequest struct {
	Customer Customer               `json:"customer"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Message  string                 `json:"message,omitempty"`
}

type UpdateStatusRequest struct {
	Status ConversationStatus `json:"status"`
}

type AssignAgentRequest struct {
	AgentID string `json:"agent_id"`
}

type SetAgentStatusRequest struct {
	Status AgentStatus `json:"status"`
}

type SendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type ChatbotRequest struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Status      ChatbotStatus `json:"status,omitempty"`
	Greeting    string        `json:"greeting,omitempty"`
}

type ChatbotMessageRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Content        string `json:"content"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// Envelope is the uniform REST response body.
type Envelope struct {
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Frame is the inbound WebSocket shape: {type, data}.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound WebSocket frames are flat objects.
type PingFrame struct {
	Type string `json:"type"`
}

type TypingFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

type ReadReceiptFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

// Payloads carried by the smaller inbound events.
type AgentStatusPayload struct {
	AgentID string      `json:"agent_id"`
	Status  AgentStatus `json:"status"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	IsTyping       bool   `json:"is_typing"`
}

type MessageStatusPayload struct {
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
}
