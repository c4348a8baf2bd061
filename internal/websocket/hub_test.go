package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]models.MessageStatus
	presence []models.AgentStatusPayload
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]models.MessageStatus{"msg_1": models.StatusSent}}
}

func (s *fakeStore) AdvanceMessageStatus(id string, status models.MessageStatus) (*models.ChatMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.statuses[id]
	if !ok {
		return nil, false, assert.AnError
	}
	next := cur.Advance(status)
	s.statuses[id] = next
	return &models.ChatMessage{ID: id, Status: next}, next != cur, nil
}

func (s *fakeStore) SetAgentStatus(id string, status models.AgentStatus) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, models.AgentStatusPayload{AgentID: id, Status: status})
	return &models.Agent{ID: id, Status: status}, nil
}

func (s *fakeStore) Presence() []models.AgentStatusPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AgentStatusPayload(nil), s.presence...)
}

func startHub(t *testing.T) (*Hub, *fakeStore, string) {
	t.Helper()
	store := newFakeStore()
	hub := NewHub(store, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn, r.URL.Query().Get("agent"))
		hub.Register <- client
		go client.WritePump()
		go client.ReadPump()
	}))
	t.Cleanup(srv.Close)
	return hub, store, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAgent(t *testing.T, base, agentID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(base+"?agent="+agentID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	// the agent's own presence event proves registration finished
	ev := nextEvent(t, conn)
	require.Equal(t, realtime.AgentStatusEvent{AgentID: agentID, Status: models.AgentOnline}, ev)
	return conn
}

func nextEvent(t *testing.T, conn *websocket.Conn) realtime.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	ev, err := realtime.DecodeFrame(data)
	require.NoError(t, err, string(data))
	return ev
}

func TestPublishReachesEveryClient(t *testing.T) {
	hub, _, base := startHub(t)
	a := dialAgent(t, base, "agent_a")
	b := dialAgent(t, base, "agent_b")
	// a also sees b come online
	assert.Equal(t, realtime.AgentStatusEvent{AgentID: "agent_b", Status: models.AgentOnline}, nextEvent(t, a))

	msg := models.ChatMessage{ID: "msg_9", ConversationID: "conv_1", SenderType: models.SenderUser, Content: "hi", Status: models.StatusSent}
	require.NoError(t, hub.Publish(realtime.MessageEvent{Message: msg}))

	for _, conn := range []*websocket.Conn{a, b} {
		ev := nextEvent(t, conn)
		got, ok := ev.(realtime.MessageEvent)
		require.True(t, ok)
		assert.Equal(t, "msg_9", got.Message.ID)
		assert.Equal(t, "hi", got.Message.Content)
	}
}

func TestPingGetsPongOnlyForSender(t *testing.T) {
	_, _, base := startHub(t)
	a := dialAgent(t, base, "agent_a")

	require.NoError(t, a.WriteJSON(models.PingFrame{Type: "ping"}))
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	_, err = realtime.DecodeFrame(data)
	assert.ErrorIs(t, err, realtime.ErrPong)
}

func TestTypingIsRebroadcastWithSender(t *testing.T) {
	_, _, base := startHub(t)
	a := dialAgent(t, base, "agent_a")
	b := dialAgent(t, base, "agent_b")
	nextEvent(t, a)

	require.NoError(t, a.WriteJSON(models.TypingFrame{Type: "typing", ConversationID: "conv_1", IsTyping: true}))

	assert.Equal(t, realtime.TypingEvent{ConversationID: "conv_1", UserID: "agent_a", IsTyping: true}, nextEvent(t, b))
}

func TestReadReceiptAdvancesStatusOnce(t *testing.T) {
	_, _, base := startHub(t)
	a := dialAgent(t, base, "agent_a")

	require.NoError(t, a.WriteJSON(models.ReadReceiptFrame{Type: "read_receipt", MessageID: "msg_1"}))
	assert.Equal(t, realtime.MessageStatusEvent{MessageID: "msg_1", Status: models.StatusRead}, nextEvent(t, a))

	// a repeated receipt changes nothing, so the next frame is the pong
	require.NoError(t, a.WriteJSON(models.ReadReceiptFrame{Type: "read_receipt", MessageID: "msg_1"}))
	require.NoError(t, a.WriteJSON(models.PingFrame{Type: "ping"}))
	a.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := a.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(data))
}

func TestPresenceFollowsLastConnection(t *testing.T) {
	_, store, base := startHub(t)
	watcher := dialAgent(t, base, "agent_w")

	first := dialAgent(t, base, "agent_a")
	assert.Equal(t, realtime.AgentStatusEvent{AgentID: "agent_a", Status: models.AgentOnline}, nextEvent(t, watcher))

	second, _, err := websocket.DefaultDialer.Dial(base+"?agent=agent_a", nil)
	require.NoError(t, err)
	defer second.Close()
	// a pong is only routed to registered clients
	require.NoError(t, second.WriteJSON(models.PingFrame{Type: "ping"}))
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	require.NoError(t, err)

	first.Close()
	// still connected through the second socket, so nothing is announced yet
	second.Close()
	assert.Equal(t, realtime.AgentStatusEvent{AgentID: "agent_a", Status: models.AgentOffline}, nextEvent(t, watcher))

	presence := store.Presence()
	assert.Equal(t, []models.AgentStatusPayload{
		{AgentID: "agent_w", Status: models.AgentOnline},
		{AgentID: "agent_a", Status: models.AgentOnline},
		{AgentID: "agent_a", Status: models.AgentOffline},
	}, presence)
}

func TestManagerAndDispatcherAgainstHub(t *testing.T) {
	hub, _, base := startHub(t)

	m := realtime.NewManager(realtime.Options{URL: base + "?agent=agent_m", Backoff: realtime.Backoff{Base: time.Second, Max: time.Second, MaxAttempts: 1}})
	d := realtime.NewDispatcher(m, nil, nil)
	events := make(chan realtime.Event, 8)
	d.AddEventListener(func(ev realtime.Event) { events <- ev })

	m.Connect("tok")
	t.Cleanup(m.Disconnect)
	require.True(t, m.IsConnected())

	select {
	case ev := <-events:
		assert.Equal(t, realtime.AgentStatusEvent{AgentID: "agent_m", Status: models.AgentOnline}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}

	hub.Publish(realtime.ConversationUpdateEvent{Conversation: models.Conversation{ID: "conv_1", Status: models.ConversationResolved}})
	select {
	case ev := <-events:
		got, ok := ev.(realtime.ConversationUpdateEvent)
		require.True(t, ok)
		assert.Equal(t, models.ConversationResolved, got.Conversation.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no conversation update")
	}
}
