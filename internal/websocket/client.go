package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	readWait       = 90 * time.Second
	maxMessageSize = 64 * 1024
)

// Client is one agent socket.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	agentID string
}

func NewClient(hub *Hub, conn *websocket.Conn, agentID string) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, 256),
		agentID: agentID,
	}
}

// inbound is the flat frame agents send: ping, typing or read_receipt.
type inbound struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
	MessageID      string `json:"message_id"`
}

var pong = []byte(`{"type":"pong"}`)

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.hub.Unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	log := c.hub.log.WithFields(map[string]interface{}{"agent_id": c.agentID})

	for {
		c.conn.SetReadDeadline(time.Now().Add(readWait))
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		var frame inbound
		if err := json.Unmarshal(message, &frame); err != nil {
			log.Debug().Err(err).Msg("undecodable frame")
			continue
		}

		switch frame.Type {
		case "ping":
			c.enqueue(pong)
		case "typing":
			if frame.ConversationID == "" {
				continue
			}
			c.hub.Publish(realtime.TypingEvent{
				ConversationID: frame.ConversationID,
				UserID:         c.agentID,
				IsTyping:       frame.IsTyping,
			})
		case "read_receipt":
			c.markRead(frame.MessageID)
		default:
			log.Debug().Str("type", frame.Type).Msg("ignoring frame")
		}
	}
}

func (c *Client) markRead(messageID string) {
	if messageID == "" {
		return
	}
	msg, changed, err := c.hub.store.AdvanceMessageStatus(messageID, models.StatusRead)
	if err != nil {
		c.hub.log.Debug().Err(err).Str("message_id", messageID).Msg("read receipt rejected")
		return
	}
	if changed {
		c.hub.Publish(realtime.MessageStatusEvent{MessageID: msg.ID, Status: msg.Status})
	}
}

// enqueue replies to this client only, via the hub which owns the send channel.
func (c *Client) enqueue(data []byte) {
	select {
	case c.hub.direct <- directMessage{client: c, data: data}:
	case <-c.hub.quit:
	}
}

func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
}
