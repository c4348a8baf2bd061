// Package chat holds the conversation state of an agent session and keeps it
// in step with REST snapshots and live events.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sync"
	"time"

	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/pending"
	"sozuri-connect/internal/realtime"
)

const (
	DefaultTypingTTL = 8 * time.Second

	placeholderMimeType = "application/octet-stream"
)

// DataSource is the REST surface the store reads from. *chatapi.Client
// satisfies it.
type DataSource interface {
	ListConversations(ctx context.Context, status models.ConversationStatus) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]models.ChatMessage, error)
	SendMessage(ctx context.Context, conversationID, content string, attachmentURLs []string) (*models.ChatMessage, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
}

// Signals is the realtime surface the store uses. *realtime.Dispatcher
// satisfies it.
type Signals interface {
	AddEventListener(fn realtime.Listener) func()
	SendTypingIndicator(conversationID string, isTyping bool) bool
	SendReadReceipt(messageID string) bool
}

// State is a point-in-time copy of everything the store holds.
type State struct {
	Conversations      []models.Conversation
	ActiveConversation *models.Conversation
	Messages           []models.ChatMessage
	Agents             []models.Agent
	// Typing maps conversation id to the remote users typing there.
	Typing map[string][]string

	ConversationsLoading bool
	MessagesLoading      bool
	AgentsLoading        bool

	ConversationsError string
	MessagesError      string
	AgentsError        string
}

type Option func(*Store)

func WithLogger(l *logger.Logger) Option {
	return func(s *Store) { s.log = l.Component("chat") }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithTypingTTL sets how long a typing indicator lives without a refresh.
// Zero keeps indicators until an explicit typing:false.
func WithTypingTTL(ttl time.Duration) Option {
	return func(s *Store) { s.typing = newTypingSet(ttl) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	api     DataSource
	signals Signals
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	sends   *pending.Tracker[models.ChatMessage]

	mu          sync.Mutex
	state       State
	typing      *typingSet
	unsubscribe func()

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]func(State)
}

// New builds a store and registers its single live-event listener.
func New(api DataSource, signals Signals, opts ...Option) *Store {
	s := &Store{
		api:         api,
		signals:     signals,
		log:         logger.Nop(),
		now:         time.Now,
		sends:       pending.NewTracker[models.ChatMessage](),
		typing:      newTypingSet(DefaultTypingTTL),
		subscribers: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = signals.AddEventListener(s.handleEvent)
	return s
}

// Close detaches the store from live events.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.Conversations = append([]models.Conversation(nil), s.state.Conversations...)
	st.Messages = append([]models.ChatMessage(nil), s.state.Messages...)
	st.Agents = append([]models.Agent(nil), s.state.Agents...)
	if s.state.ActiveConversation != nil {
		active := *s.state.ActiveConversation
		st.ActiveConversation = &active
	}
	st.Typing = s.typing.snapshot(s.now())
	return st
}

// Subscribe registers fn to receive a snapshot after every change.
func (s *Store) Subscribe(fn func(State)) func() {
	s.subMu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

// update applies fn under the lock and notifies subscribers.
func (s *Store) update(fn func()) {
	s.mu.Lock()
	fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Store) notify(snap State) {
	s.subMu.Lock()
	subs := make([]func(State), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// LoadConversations replaces the conversation list. An empty status loads
// every conversation.
func (s *Store) LoadConversations(ctx context.Context, status models.ConversationStatus) error {
	s.update(func() { s.state.ConversationsLoading = true })

	convs, err := s.api.ListConversations(ctx, status)

	s.update(func() {
		s.state.ConversationsLoading = false
		if err != nil {
			s.state.ConversationsError = fmt.Sprintf("failed to load conversations: %v", err)
			return
		}
		s.state.ConversationsError = ""
		s.state.Conversations = convs
	})
	if err != nil {
		s.log.Warn().Err(err).Str("status", string(status)).Msg("load conversations failed")
		return fmt.Errorf("load conversations: %w", err)
	}
	return nil
}

// SetActiveConversation changes the local selection only; callers load the
// messages themselves.
func (s *Store) SetActiveConversation(conv *models.Conversation) {
	s.update(func() {
		if conv == nil {
			s.state.ActiveConversation = nil
			return
		}
		c := *conv
		s.state.ActiveConversation = &c
	})
}

// LoadMessages replaces the message list and acknowledges every fetched
// message from the other party that is not read yet.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) error {
	s.update(func() { s.state.MessagesLoading = true })

	msgs, err := s.api.ListMessages(ctx, conversationID)

	var unread []string
	s.update(func() {
		s.state.MessagesLoading = false
		if err != nil {
			s.state.MessagesError = fmt.Sprintf("failed to load messages: %v", err)
			return
		}
		s.state.MessagesError = ""
		s.state.Messages = append([]models.ChatMessage(nil), msgs...)
		for i, m := range s.state.Messages {
			if m.SenderType != models.SenderAgent && m.Status != models.StatusRead {
				unread = append(unread, m.ID)
				s.state.Messages[i].Status = models.StatusRead
			}
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("load messages failed")
		return fmt.Errorf("load messages: %w", err)
	}

	for _, id := range unread {
		s.signals.SendReadReceipt(id)
	}
	return nil
}

func (s *Store) LoadAgents(ctx context.Context) error {
	s.update(func() { s.state.AgentsLoading = true })

	agents, err := s.api.ListAgents(ctx)

	s.update(func() {
		s.state.AgentsLoading = false
		if err != nil {
			s.state.AgentsError = fmt.Sprintf("failed to load agents: %v", err)
			return
		}
		s.state.AgentsError = ""
		s.state.Agents = agents
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("load agents failed")
		return fmt.Errorf("load agents: %w", err)
	}
	return nil
}

// SendMessage shows the message immediately under a temporary id, then swaps
// in the server's copy or rolls the placeholder back.
func (s *Store) SendMessage(ctx context.Context, conversationID, text string, attachmentURLs []string) (*models.ChatMessage, error) {
	placeholder := models.ChatMessage{
		ConversationID: conversationID,
		SenderType:     models.SenderAgent,
		Content:        text,
		Timestamp:      s.now(),
		Status:         models.StatusSent,
	}
	tempID := s.sends.Begin(placeholder)
	placeholder.ID = tempID
	placeholder.Attachments = placeholderAttachments(tempID, attachmentURLs)

	s.update(func() {
		s.state.Messages = append(s.state.Messages, placeholder)
	})

	msg, err := s.api.SendMessage(ctx, conversationID, text, attachmentURLs)
	s.sends.Finish(tempID)

	if err != nil {
		s.update(func() {
			s.state.Messages, _ = pending.Remove(s.state.Messages, tempID, messageID)
		})
		s.metrics.RecordOptimisticSend("rolled_back")
		s.log.Error().Err(err).Str("conversation_id", conversationID).Msg("send message failed")
		return nil, fmt.Errorf("send message: %w", err)
	}

	s.update(func() {
		if pending.IndexOf(s.state.Messages, msg.ID, messageID) >= 0 {
			// the live echo got here first
			s.state.Messages, _ = pending.Remove(s.state.Messages, tempID, messageID)
		} else if i := pending.IndexOf(s.state.Messages, tempID, messageID); i >= 0 {
			confirmed := *msg
			confirmed.Status = s.state.Messages[i].Status.Advance(confirmed.Status)
			s.state.Messages, _ = pending.Replace(s.state.Messages, tempID, messageID, confirmed)
		}
		s.setLastMessageLocked(*msg)
	})
	s.metrics.RecordOptimisticSend("confirmed")
	return msg, nil
}

func placeholderAttachments(tempID string, urls []string) []models.Attachment {
	if len(urls) == 0 {
		return nil
	}
	out := make([]models.Attachment, 0, len(urls))
	for i, raw := range urls {
		name := raw
		if u, err := url.Parse(raw); err == nil && u.Path != "" {
			name = path.Base(u.Path)
		}
		out = append(out, models.Attachment{
			ID:       fmt.Sprintf("%s-%d", tempID, i),
			Filename: name,
			URL:      raw,
			MimeType: placeholderMimeType,
		})
	}
	return out
}

// SetTyping tells the other party whether the agent is typing. Local typing
// state only follows remote events.
func (s *Store) SetTyping(conversationID string, isTyping bool) bool {
	return s.signals.SendTypingIndicator(conversationID, isTyping)
}

func (s *Store) MarkMessageAsRead(messageID string) {
	s.signals.SendReadReceipt(messageID)
	s.update(func() { s.advanceStatusLocked(messageID, models.StatusRead) })
}

// SweepTyping drops stale typing indicators and returns how many went.
func (s *Store) SweepTyping() int {
	s.mu.Lock()
	n := s.typing.expire(s.now())
	var snap State
	if n > 0 {
		snap = s.snapshotLocked()
	}
	s.mu.Unlock()

	if n > 0 {
		s.metrics.RecordTypingExpired(n)
		s.notify(snap)
	}
	return n
}

// RunTypingSweeper calls SweepTyping every interval until ctx is done.
func (s *Store) RunTypingSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepTyping()
		}
	}
}

func messageID(m models.ChatMessage) string { return m.ID }

func conversationID(c models.Conversation) string { return c.ID }

// setLastMessageLocked moves the preview forward only. A reply that lands
// after a newer live message leaves the newer one in place.
func (s *Store) setLastMessageLocked(msg models.ChatMessage) {
	i := pending.IndexOf(s.state.Conversations, msg.ConversationID, conversationID)
	if i < 0 {
		return
	}
	if cur := s.state.Conversations[i].LastMessage; cur != nil && cur.ID != msg.ID && msg.Timestamp.Before(cur.Timestamp) {
		return
	}
	last := msg
	convs := append([]models.Conversation(nil), s.state.Conversations...)
	convs[i].LastMessage = &last
	s.state.Conversations = convs
}

func (s *Store) advanceStatusLocked(id string, status models.MessageStatus) {
	i := pending.IndexOf(s.state.Messages, id, messageID)
	if i < 0 {
		return
	}
	next := s.state.Messages[i].Status.Advance(status)
	if next == s.state.Messages[i].Status {
		return
	}
	msgs := append([]models.ChatMessage(nil), s.state.Messages...)
	msgs[i].Status = next
	s.state.Messages = msgs
}
