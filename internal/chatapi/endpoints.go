package chatapi

import (
	"context"
	"fmt"
	"net/url"

	"sozuri-connect/internal/models"
)

const (
	chatPrefix = "/v1/chat"
	keysPrefix = "/v1/api-keys"
)

func requireID(method, path, id string) error {
	if id == "" {
		return fmt.Errorf("%s %s: decode response: %w", method, path, ErrMissingID)
	}
	return nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.do(ctx, "POST", "/v1/auth/login", nil, models.LoginRequest{Email: email, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Conversations

// ListConversations returns every conversation when status is empty.
func (c *Client) ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": {string(status)}}
	}
	var out []models.Conversation
	if err := c.do(ctx, "GET", chatPrefix+"/conversations", query, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.do(ctx, "GET", chatPrefix+"/conversations/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.do(ctx, "POST", chatPrefix+"/conversations", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateConversationStatus(ctx context.Context, id string, status models.ConversationStatus) (*models.Conversation, error) {
	var out models.Conversation
	path := chatPrefix + "/conversations/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, "PUT", path, nil, models.UpdateStatusRequest{Status: status}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AssignAgent(ctx context.Context, conversationID, agentID string) (*models.Conversation, error) {
	var out models.Conversation
	path := chatPrefix + "/conversations/" + url.PathEscape(conversationID) + "/assign"
	if err := c.do(ctx, "POST", path, nil, models.AssignAgentRequest{AgentID: agentID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	path := chatPrefix + "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "GET", path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, content string, attachmentURLs []string) (*models.ChatMessage, error) {
	var out models.ChatMessage
	path := chatPrefix + "/conversations/" + url.PathEscape(conversationID) + "/messages"
	req := models.SendMessageRequest{Content: content, Attachments: attachmentURLs}
	if err := c.do(ctx, "POST", path, nil, req, &out); err != nil {
		return nil, err
	}
	if err := requireID("POST", path, out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chatbots

func (c *Client) ListChatbots(ctx context.Context) ([]models.Chatbot, error) {
	var out []models.Chatbot
	if err := c.do(ctx, "GET", chatPrefix+"/chatbots", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetChatbot(ctx context.Context, id string) (*models.Chatbot, error) {
	var out models.Chatbot
	if err := c.do(ctx, "GET", chatPrefix+"/chatbots/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateChatbot(ctx context.Context, req models.ChatbotRequest) (*models.Chatbot, error) {
	var out models.Chatbot
	if err := c.do(ctx, "POST", chatPrefix+"/chatbots", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateChatbot(ctx context.Context, id string, req models.ChatbotRequest) (*models.Chatbot, error) {
	var out models.Chatbot
	if err := c.do(ctx, "PUT", chatPrefix+"/chatbots/"+url.PathEscape(id), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteChatbot(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", chatPrefix+"/chatbots/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) SendChatbotMessage(ctx context.Context, id string, req models.ChatbotMessageRequest) (*models.ChatMessage, error) {
	var out models.ChatMessage
	path := chatPrefix + "/chatbots/" + url.PathEscape(id) + "/messages"
	if err := c.do(ctx, "POST", path, nil, req, &out); err != nil {
		return nil, err
	}
	if err := requireID("POST", path, out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents

func (c *Client) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var out []models.Agent
	if err := c.do(ctx, "GET", chatPrefix+"/agents", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var out models.Agent
	if err := c.do(ctx, "GET", chatPrefix+"/agents/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateAgent(ctx context.Context, req models.RegisterAgentRequest) (*models.Agent, error) {
	var out models.Agent
	if err := c.do(ctx, "POST", chatPrefix+"/agents", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateAgent(ctx context.Context, id string, req models.UpdateAgentRequest) (*models.Agent, error) {
	var out models.Agent
	if err := c.do(ctx, "PUT", chatPrefix+"/agents/"+url.PathEscape(id), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", chatPrefix+"/agents/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) SetAgentStatus(ctx context.Context, id string, status models.AgentStatus) (*models.Agent, error) {
	var out models.Agent
	path := chatPrefix + "/agents/" + url.PathEscape(id) + "/status"
	if err := c.do(ctx, "PUT", path, nil, models.SetAgentStatusRequest{Status: status}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// API keys

func (c *Client) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	var out []models.APIKey
	if err := c.do(ctx, "GET", keysPrefix, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateAPIKey(ctx context.Context, name string) (*models.APIKey, error) {
	var out models.APIKey
	if err := c.do(ctx, "POST", keysPrefix, nil, models.CreateAPIKeyRequest{Name: name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", keysPrefix+"/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) RegenerateAPIKey(ctx context.Context, id string) (*models.APIKey, error) {
	var out models.APIKey
	if err := c.do(ctx, "POST", keysPrefix+"/"+url.PathEscape(id)+"/regenerate", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
