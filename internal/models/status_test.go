package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceNeverRegresses(t *testing.T) {
	tests := []struct {
		from, next, want MessageStatus
	}{
		{StatusSent, StatusDelivered, StatusDelivered},
		{StatusSent, StatusRead, StatusRead},
		{StatusDelivered, StatusSent, StatusDelivered},
		{StatusRead, StatusDelivered, StatusRead},
		{StatusRead, StatusRead, StatusRead},
		{StatusDelivered, "bogus", StatusDelivered},
		{"", StatusSent, StatusSent},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.next), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Advance(tt.next))
		})
	}
}

func TestConversationStatusValid(t *testing.T) {
	assert.True(t, ConversationWaiting.Valid())
	assert.True(t, ConversationTransferred.Valid())
	assert.False(t, ConversationStatus("archived").Valid())
}

func TestConversationJSONShape(t *testing.T) {
	raw := `{
		"id": "conv_1",
		"customer": {"id": "cus_1", "name": "Ada", "email": "ada@example.test"},
		"status": "waiting",
		"created_at": "2024-05-01T10:00:00Z",
		"updated_at": "2024-05-01T10:05:00Z",
		"last_message": {"id": "m1", "conversation_id": "conv_1", "sender_type": "user",
			"sender_id": "cus_1", "content": "hi", "timestamp": "2024-05-01T10:05:00Z", "status": "delivered"},
		"tags": ["vip"]
	}`

	var c Conversation
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	assert.Equal(t, ConversationWaiting, c.Status)
	assert.Nil(t, c.Agent)
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, SenderUser, c.LastMessage.SenderType)
	assert.Equal(t, StatusDelivered, c.LastMessage.Status)
	assert.Equal(t, []string{"vip"}, c.Tags)
}
