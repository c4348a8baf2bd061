package chat

import (
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/pending"
	"sozuri-connect/internal/realtime"
)

// handleEvent folds one live event into the state.
func (s *Store) handleEvent(ev realtime.Event) {
	var receipt string

	s.update(func() {
		switch e := ev.(type) {
		case realtime.MessageEvent:
			receipt = s.applyMessageLocked(e.Message)
		case realtime.ConversationUpdateEvent:
			s.applyConversationLocked(e.Conversation)
		case realtime.AgentStatusEvent:
			s.applyAgentStatusLocked(e.AgentID, e.Status)
		case realtime.TypingEvent:
			s.typing.set(e.ConversationID, e.UserID, e.IsTyping, s.now())
		case realtime.MessageStatusEvent:
			s.advanceStatusLocked(e.MessageID, e.Status)
		}
	})

	if receipt != "" {
		s.signals.SendReadReceipt(receipt)
	}
}

// applyMessageLocked returns the id to acknowledge, if any.
func (s *Store) applyMessageLocked(msg models.ChatMessage) string {
	active := s.state.ActiveConversation
	if active == nil || active.ID != msg.ConversationID {
		s.setLastMessageLocked(msg)
		return ""
	}

	existing := pending.IndexOf(s.state.Messages, msg.ID, messageID)
	if existing >= 0 {
		// a re-delivered copy must not undo a status advance
		msg.Status = s.state.Messages[existing].Status.Advance(msg.Status)
	}

	var receipt string
	if msg.SenderType != models.SenderAgent && msg.Status != models.StatusRead {
		receipt = msg.ID
		msg.Status = models.StatusRead
	}

	if existing >= 0 {
		s.state.Messages, _ = pending.Replace(s.state.Messages, msg.ID, messageID, msg)
	} else {
		s.state.Messages = append(append([]models.ChatMessage(nil), s.state.Messages...), msg)
	}
	s.setLastMessageLocked(msg)
	return receipt
}

func (s *Store) applyConversationLocked(conv models.Conversation) {
	if replaced, ok := pending.Replace(s.state.Conversations, conv.ID, conversationID, conv); ok {
		s.state.Conversations = replaced
	}
	if s.state.ActiveConversation != nil && s.state.ActiveConversation.ID == conv.ID {
		c := conv
		s.state.ActiveConversation = &c
	}
}

func (s *Store) applyAgentStatusLocked(agentID string, status models.AgentStatus) {
	i := pending.IndexOf(s.state.Agents, agentID, func(a models.Agent) string { return a.ID })
	if i < 0 {
		return
	}
	agents := append([]models.Agent(nil), s.state.Agents...)
	agents[i].Status = status
	s.state.Agents = agents
}
