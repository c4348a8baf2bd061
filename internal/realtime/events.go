package realtime

import (
	"encoding/json"
	"errors"
	"fmt"

	"sozuri-connect/internal/models"
)

type EventType string

const (
	EventMessage            EventType = "message"
	EventConversationUpdate EventType = "conversation_update"
	EventAgentStatus        EventType = "agent_status"
	EventTyping             EventType = "typing"
	EventMessageStatus      EventType = "message_status"

	framePong = "pong"
)

var (
	// ErrPong marks a keep-alive acknowledgement; it is not an event.
	ErrPong        = errors.New("pong frame")
	ErrUnknownType = errors.New("unknown frame type")
	ErrMalformed   = errors.New("malformed frame")
)

// Event is the closed set of inbound live events. Subscribers type-switch
// on the concrete types below.
type Event interface {
	Type() EventType
	payload() interface{}
}

type MessageEvent struct {
	Message models.ChatMessage
}

type ConversationUpdateEvent struct {
	Conversation models.Conversation
}

type AgentStatusEvent struct {
	AgentID string
	Status  models.AgentStatus
}

type TypingEvent struct {
	ConversationID string
	UserID         string
	IsTyping       bool
}

type MessageStatusEvent struct {
	MessageID string
	Status    models.MessageStatus
}

func (MessageEvent) Type() EventType            { return EventMessage }
func (ConversationUpdateEvent) Type() EventType { return EventConversationUpdate }
func (AgentStatusEvent) Type() EventType        { return EventAgentStatus }
func (TypingEvent) Type() EventType             { return EventTyping }
func (MessageStatusEvent) Type() EventType      { return EventMessageStatus }

func (e MessageEvent) payload() interface{}            { return e.Message }
func (e ConversationUpdateEvent) payload() interface{} { return e.Conversation }
func (e AgentStatusEvent) payload() interface{} {
	return models.AgentStatusPayload{AgentID: e.AgentID, Status: e.Status}
}
func (e TypingEvent) payload() interface{} {
	return models.TypingPayload{ConversationID: e.ConversationID, UserID: e.UserID, IsTyping: e.IsTyping}
}
func (e MessageStatusEvent) payload() interface{} {
	return models.MessageStatusPayload{MessageID: e.MessageID, Status: e.Status}
}

// DecodeFrame parses one inbound frame. It returns ErrPong for keep-alive
// acknowledgements, ErrUnknownType for types outside the event set and
// ErrMalformed for undecodable or incomplete payloads.
func DecodeFrame(raw []byte) (Event, error) {
	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch EventType(frame.Type) {
	case EventMessage:
		var msg models.ChatMessage
		if err := decodeData(frame, &msg); err != nil {
			return nil, err
		}
		if msg.ID == "" || msg.ConversationID == "" {
			return nil, fmt.Errorf("%w: message without id or conversation_id", ErrMalformed)
		}
		return MessageEvent{Message: msg}, nil

	case EventConversationUpdate:
		var conv models.Conversation
		if err := decodeData(frame, &conv); err != nil {
			return nil, err
		}
		if conv.ID == "" {
			return nil, fmt.Errorf("%w: conversation without id", ErrMalformed)
		}
		return ConversationUpdateEvent{Conversation: conv}, nil

	case EventAgentStatus:
		var p models.AgentStatusPayload
		if err := decodeData(frame, &p); err != nil {
			return nil, err
		}
		if p.AgentID == "" || !p.Status.Valid() {
			return nil, fmt.Errorf("%w: bad agent_status payload", ErrMalformed)
		}
		return AgentStatusEvent{AgentID: p.AgentID, Status: p.Status}, nil

	case EventTyping:
		var p models.TypingPayload
		if err := decodeData(frame, &p); err != nil {
			return nil, err
		}
		if p.ConversationID == "" || p.UserID == "" {
			return nil, fmt.Errorf("%w: typing without conversation_id or user_id", ErrMalformed)
		}
		return TypingEvent{ConversationID: p.ConversationID, UserID: p.UserID, IsTyping: p.IsTyping}, nil

	case EventMessageStatus:
		var p models.MessageStatusPayload
		if err := decodeData(frame, &p); err != nil {
			return nil, err
		}
		if p.MessageID == "" || !p.Status.Valid() {
			return nil, fmt.Errorf("%w: bad message_status payload", ErrMalformed)
		}
		return MessageStatusEvent{MessageID: p.MessageID, Status: p.Status}, nil
	}

	if frame.Type == framePong {
		return nil, ErrPong
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, frame.Type)
}

func decodeData(frame models.Frame, v interface{}) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: %s frame without data", ErrMalformed, frame.Type)
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, frame.Type, err)
	}
	return nil
}

// EncodeEvent renders ev in its {type, data} wire form.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev.payload())
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", ev.Type(), err)
	}
	return json.Marshal(models.Frame{Type: string(ev.Type()), Data: data})
}
