package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sozuri-connect/internal/chatapi"
	"sozuri-connect/internal/db"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
	"sozuri-connect/internal/session"
	"sozuri-connect/internal/websocket"
)

const (
	adminEmail    = "admin@sozuri.local"
	adminPassword = "admin-password"
)

type testServer struct {
	url string
	db  *db.DB
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "chatd.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	_, err = database.SeedAdmin(adminEmail, adminPassword)
	require.NoError(t, err)

	hub := websocket.NewHub(database, nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := NewHandlers(database, hub, "test-secret", []string{"*"}, nil)
	srv := httptest.NewServer(NewRouter(h, []string{"*"}))
	t.Cleanup(srv.Close)
	return &testServer{url: srv.URL, db: database}
}

func (s *testServer) client(t *testing.T, token string) *chatapi.Client {
	t.Helper()
	c, err := chatapi.New(chatapi.Options{BaseURL: s.url, Tokens: chatapi.StaticToken(token)})
	require.NoError(t, err)
	return c
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, err := s.client(t, "").Login(context.Background(), email, password)
	require.NoError(t, err)
	return resp.Token
}

// widget calls a /v1/widget route and decodes the envelope.
func (s *testServer) widget(t *testing.T, method, path, key string, body interface{}) (int, models.Envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.url+"/v1/widget"+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", key)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env models.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestLoginIssuesInspectableToken(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	resp, err := s.client(t, "").Login(ctx, adminEmail, adminPassword)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, resp.Agent.Role)

	claims, err := session.Check(resp.Token, time.Now())
	require.NoError(t, err)
	assert.Equal(t, adminEmail, claims.Subject)
	assert.Equal(t, resp.Agent.ID, claims.AgentID)
	assert.Equal(t, "admin", claims.Role)
	assert.WithinDuration(t, time.Now().Add(tokenTTL), claims.ExpiresAt, time.Minute)

	_, err = s.client(t, "").Login(ctx, adminEmail, "wrong")
	assert.True(t, chatapi.IsStatus(err, http.StatusUnauthorized))
	_, err = s.client(t, "").Login(ctx, "nobody@sozuri.local", adminPassword)
	assert.True(t, chatapi.IsStatus(err, http.StatusUnauthorized))
}

func TestChatRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.client(t, "").ListConversations(ctx, "")
	assert.True(t, chatapi.IsStatus(err, http.StatusUnauthorized))

	_, err = s.client(t, "not-a-jwt").ListConversations(ctx, "")
	assert.True(t, chatapi.IsStatus(err, http.StatusUnauthorized))

	// a token signed with another secret
	forged, err := issueToken([]byte("other"), &models.Agent{ID: "agent_x", Role: models.RoleAdmin}, time.Now())
	require.NoError(t, err)
	_, err = s.client(t, forged).ListConversations(ctx, "")
	assert.True(t, chatapi.IsStatus(err, http.StatusUnauthorized))
}

func TestWidgetConversationFlow(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	admin := s.client(t, s.login(t, adminEmail, adminPassword))

	key, err := admin.CreateAPIKey(ctx, "website")
	require.NoError(t, err)

	status, _ := s.widget(t, "POST", "/conversations", "szk_wrong", models.CreateConversationRequest{})
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.widget(t, "POST", "/conversations", key.Key, models.CreateConversationRequest{
		Customer: models.Customer{Name: "Ada", Email: "ada@example.com"},
		Message:  "my invoice is wrong",
	})
	require.Equal(t, http.StatusCreated, status)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(env.Data, &conv))

	waiting, err := admin.ListConversations(ctx, models.ConversationWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.NotNil(t, waiting[0].LastMessage)
	assert.Equal(t, "my invoice is wrong", waiting[0].LastMessage.Content)

	reply, err := admin.SendMessage(ctx, conv.ID, "here is the corrected one", []string{
		"https://cdn.example.com/files/invoice.pdf",
		"https://cdn.example.com/files/blob",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SenderAgent, reply.SenderType)
	require.Len(t, reply.Attachments, 2)
	assert.Equal(t, "invoice.pdf", reply.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", reply.Attachments[0].MimeType)
	assert.Equal(t, defaultMimeType, reply.Attachments[1].MimeType)

	status, _ = s.widget(t, "POST", "/conversations/"+conv.ID+"/messages", key.Key, models.SendMessageRequest{Content: "thanks!"})
	require.Equal(t, http.StatusCreated, status)

	status, env = s.widget(t, "GET", "/conversations/"+conv.ID+"/messages", key.Key, nil)
	require.Equal(t, http.StatusOK, status)
	var history []models.ChatMessage
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 3)
	assert.Equal(t, []models.SenderType{models.SenderUser, models.SenderAgent, models.SenderUser},
		[]models.SenderType{history[0].SenderType, history[1].SenderType, history[2].SenderType})
	assert.Equal(t, conv.Customer.ID, history[2].SenderID)

	_, err = admin.SendMessage(ctx, conv.ID, "   ", nil)
	assert.True(t, chatapi.IsStatus(err, http.StatusBadRequest))
	_, err = admin.ListMessages(ctx, "conv_missing")
	assert.True(t, chatapi.IsStatus(err, http.StatusNotFound))
}

func TestAssignAndStatusUpdates(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	admin := s.client(t, s.login(t, adminEmail, adminPassword))

	conv, err := admin.CreateConversation(ctx, models.CreateConversationRequest{Customer: models.Customer{Name: "Ada"}})
	require.NoError(t, err)

	// an empty agent id assigns the caller
	assigned, err := admin.AssignAgent(ctx, conv.ID, "")
	require.NoError(t, err)
	require.NotNil(t, assigned.Agent)
	assert.Equal(t, adminEmail, assigned.Agent.Email)
	assert.Equal(t, models.ConversationActive, assigned.Status)

	resolved, err := admin.UpdateConversationStatus(ctx, conv.ID, models.ConversationResolved)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationResolved, resolved.Status)

	_, err = admin.UpdateConversationStatus(ctx, conv.ID, "archived")
	assert.True(t, chatapi.IsStatus(err, http.StatusBadRequest))
	_, err = admin.UpdateConversationStatus(ctx, "conv_missing", models.ConversationActive)
	assert.True(t, chatapi.IsStatus(err, http.StatusNotFound))
	_, err = admin.ListConversations(ctx, "archived")
	assert.True(t, chatapi.IsStatus(err, http.StatusBadRequest))
}

func TestRoleRestrictions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	admin := s.client(t, s.login(t, adminEmail, adminPassword))

	created, err := admin.CreateAgent(ctx, models.RegisterAgentRequest{Name: "Jane", Email: "jane@example.com", Password: "jane-password"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, created.Role)

	_, err = admin.CreateAgent(ctx, models.RegisterAgentRequest{Name: "Jane", Email: "jane@example.com", Password: "jane-password"})
	assert.True(t, chatapi.IsStatus(err, http.StatusConflict))

	jane := s.client(t, s.login(t, "jane@example.com", "jane-password"))

	_, err = jane.CreateAPIKey(ctx, "mine")
	assert.True(t, chatapi.IsStatus(err, http.StatusForbidden))
	_, err = jane.CreateAgent(ctx, models.RegisterAgentRequest{Name: "Eve", Email: "eve@example.com", Password: "eve-password"})
	assert.True(t, chatapi.IsStatus(err, http.StatusForbidden))

	agents, err := jane.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	var adminID string
	for _, a := range agents {
		if a.Email == adminEmail {
			adminID = a.ID
		}
	}
	_, err = jane.SetAgentStatus(ctx, adminID, models.AgentAway)
	assert.True(t, chatapi.IsStatus(err, http.StatusForbidden))

	away, err := jane.SetAgentStatus(ctx, created.ID, models.AgentAway)
	require.NoError(t, err)
	assert.Equal(t, models.AgentAway, away.Status)

	require.NoError(t, admin.DeleteAgent(ctx, created.ID))
	_, err = admin.GetAgent(ctx, created.ID)
	assert.True(t, chatapi.IsStatus(err, http.StatusNotFound))
}

func TestAPIKeyManagement(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	admin := s.client(t, s.login(t, adminEmail, adminPassword))

	key, err := admin.CreateAPIKey(ctx, "website")
	require.NoError(t, err)
	require.NotEmpty(t, key.Key)

	keys, err := admin.ListAPIKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Empty(t, keys[0].Key)

	fresh, err := admin.RegenerateAPIKey(ctx, key.ID)
	require.NoError(t, err)
	status, _ := s.widget(t, "GET", "/conversations/conv_x/messages", key.Key, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = s.widget(t, "GET", "/conversations/conv_x/messages", fresh.Key, nil)
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, admin.DeleteAPIKey(ctx, key.ID))
	err = admin.DeleteAPIKey(ctx, key.ID)
	assert.True(t, chatapi.IsStatus(err, http.StatusNotFound))
}

func TestChatbotMessages(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	admin := s.client(t, s.login(t, adminEmail, adminPassword))

	conv, err := admin.CreateConversation(ctx, models.CreateConversationRequest{Customer: models.Customer{Name: "Ada"}})
	require.NoError(t, err)
	bot, err := admin.CreateChatbot(ctx, models.ChatbotRequest{Name: "Greeter", Greeting: "Hi!"})
	require.NoError(t, err)

	_, err = admin.SendChatbotMessage(ctx, bot.ID, models.ChatbotMessageRequest{ConversationID: conv.ID, Content: "Hi!"})
	assert.True(t, chatapi.IsStatus(err, http.StatusConflict))

	_, err = admin.UpdateChatbot(ctx, bot.ID, models.ChatbotRequest{Name: "Greeter", Status: models.ChatbotActive})
	require.NoError(t, err)

	msg, err := admin.SendChatbotMessage(ctx, bot.ID, models.ChatbotMessageRequest{ConversationID: conv.ID, Content: "Hi!"})
	require.NoError(t, err)
	assert.Equal(t, models.SenderBot, msg.SenderType)
	assert.Equal(t, bot.ID, msg.SenderID)

	require.NoError(t, admin.DeleteChatbot(ctx, bot.ID))
	bots, err := admin.ListChatbots(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestLiveEventsReachConnectedAgents(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	token := s.login(t, adminEmail, adminPassword)
	admin := s.client(t, token)
	key, err := admin.CreateAPIKey(ctx, "website")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(s.url, "http") + "/v1/chat/ws"
	m := realtime.NewManager(realtime.Options{URL: wsURL, Backoff: realtime.Backoff{Base: time.Second, Max: time.Second, MaxAttempts: 1}})
	d := realtime.NewDispatcher(m, nil, nil)
	events := make(chan realtime.Event, 16)
	d.AddEventListener(func(ev realtime.Event) { events <- ev })

	m.Connect(token)
	t.Cleanup(m.Disconnect)
	require.True(t, m.IsConnected())

	next := func() realtime.Event {
		select {
		case ev := <-events:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event")
			return nil
		}
	}

	presence, ok := next().(realtime.AgentStatusEvent)
	require.True(t, ok)
	assert.Equal(t, models.AgentOnline, presence.Status)

	status, _ := s.widget(t, "POST", "/conversations", key.Key, models.CreateConversationRequest{
		Customer: models.Customer{Name: "Ada"},
		Message:  "hello?",
	})
	require.Equal(t, http.StatusCreated, status)

	msg, ok := next().(realtime.MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "hello?", msg.Message.Content)

	update, ok := next().(realtime.ConversationUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, msg.Message.ConversationID, update.Conversation.ID)

	// an unauthenticated upgrade is refused before the handshake
	bad := realtime.NewManager(realtime.Options{URL: wsURL, Backoff: realtime.Backoff{}})
	bad.Connect("garbage")
	assert.False(t, bad.IsConnected())
	bad.Disconnect()
}
