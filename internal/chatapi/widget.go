package chatapi

import (
	"context"
	"net/url"

	"sozuri-connect/internal/models"
)

const widgetPrefix = "/v1/widget"

// Widget routes act for the customer and need Options.APIKey instead of a
// bearer token.

func (c *Client) WidgetCreateConversation(ctx context.Context, req models.CreateConversationRequest) (*models.Conversation, error) {
	var out models.Conversation
	if err := c.do(ctx, "POST", widgetPrefix+"/conversations", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WidgetSendMessage(ctx context.Context, conversationID, content string) (*models.ChatMessage, error) {
	var out models.ChatMessage
	path := widgetPrefix + "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "POST", path, nil, models.SendMessageRequest{Content: content}, &out); err != nil {
		return nil, err
	}
	if err := requireID("POST", path, out.ID); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) WidgetListMessages(ctx context.Context, conversationID string) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	path := widgetPrefix + "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "GET", path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
