package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sozuri-connect/internal/models"
)

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"pong", `{"type":"pong"}`, ErrPong},
		{"unknown", `{"type":"presence","data":{}}`, ErrUnknownType},
		{"not json", `{`, ErrMalformed},
		{"no data", `{"type":"message"}`, ErrMalformed},
		{"missing ids", `{"type":"message","data":{"content":"x"}}`, ErrMalformed},
		{"conversation without id", `{"type":"conversation_update","data":{"status":"active"}}`, ErrMalformed},
		{"bad agent status", `{"type":"agent_status","data":{"agent_id":"a","status":"busy"}}`, ErrMalformed},
		{"bad message status", `{"type":"message_status","data":{"message_id":"m","status":"seen"}}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeFrame([]byte(tt.raw))
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestEncodeEventRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		MessageEvent{Message: models.ChatMessage{
			ID: "m1", ConversationID: "c1", SenderType: models.SenderAgent,
			SenderID: "a1", Content: "hello", Timestamp: ts, Status: models.StatusSent,
		}},
		AgentStatusEvent{AgentID: "a1", Status: models.AgentOnline},
		TypingEvent{ConversationID: "c1", UserID: "u1", IsTyping: true},
		MessageStatusEvent{MessageID: "m1", Status: models.StatusRead},
	}

	for _, ev := range events {
		raw, err := EncodeEvent(ev)
		require.NoError(t, err)
		back, err := DecodeFrame(raw)
		require.NoError(t, err)
		assert.Equal(t, ev, back)
	}
}
