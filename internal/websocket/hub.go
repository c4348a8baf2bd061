package websocket

import (
	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/models"
	"sozuri-connect/internal/realtime"
)

// Store is the persistence the hub needs for presence and read receipts.
type Store interface {
	AdvanceMessageStatus(id string, status models.MessageStatus) (*models.ChatMessage, bool, error)
	SetAgentStatus(id string, status models.AgentStatus) (*models.Agent, error)
}

type directMessage struct {
	client *Client
	data   []byte
}

// Hub fans live events out to every connected agent socket. All client
// bookkeeping happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]bool
	agents     map[string]int
	Broadcast  chan []byte
	Register   chan *Client
	Unregister chan *Client
	direct     chan directMessage
	quit       chan struct{}
	log        *logger.Logger
	store      Store
}

func NewHub(store Store, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Nop()
	}
	return &Hub{
		Broadcast:  make(chan []byte, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		direct:     make(chan directMessage, 64),
		quit:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		agents:     make(map[string]int),
		log:        log.Component("websocket"),
		store:      store,
	}
}

func (h *Hub) Run() {
	h.log.Info().Msg("websocket hub started")
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.Register:
			h.clients[client] = true
			h.agents[client.agentID]++
			h.log.Info().
				Str("agent_id", client.agentID).
				Int("clients", len(h.clients)).
				Msg("client connected")
			if h.agents[client.agentID] == 1 {
				h.setPresence(client.agentID, models.AgentOnline)
			}

		case client := <-h.Unregister:
			if h.clients[client] {
				h.remove(client)
				h.log.Info().
					Str("agent_id", client.agentID).
					Int("clients", len(h.clients)).
					Msg("client disconnected")
				if h.agents[client.agentID] == 0 {
					h.setPresence(client.agentID, models.AgentOffline)
				}
			}

		case message := <-h.Broadcast:
			h.fanOut(message)

		case m := <-h.direct:
			if h.clients[m.client] {
				select {
				case m.client.send <- m.data:
				default:
				}
			}
		}
	}
}

// Stop ends Run and closes every client socket.
func (h *Hub) Stop() {
	select {
	case <-h.quit:
	default:
		close(h.quit)
	}
}

// Publish queues ev for every connected client.
func (h *Hub) Publish(ev realtime.Event) error {
	data, err := realtime.EncodeEvent(ev)
	if err != nil {
		h.log.Error().Err(err).Str("type", string(ev.Type())).Msg("failed to encode event")
		return err
	}
	select {
	case h.Broadcast <- data:
	case <-h.quit:
	}
	return nil
}

func (h *Hub) fanOut(message []byte) {
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.log.Warn().Str("agent_id", client.agentID).Msg("client too slow, dropping")
			h.remove(client)
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	close(client.send)
	if h.agents[client.agentID]--; h.agents[client.agentID] <= 0 {
		delete(h.agents, client.agentID)
	}
}

// setPresence persists the agent's status and tells everyone, the agent
// included. It runs on the hub goroutine so it must not block on Publish.
func (h *Hub) setPresence(agentID string, status models.AgentStatus) {
	if _, err := h.store.SetAgentStatus(agentID, status); err != nil {
		h.log.Warn().Err(err).Str("agent_id", agentID).Msg("failed to update agent status")
	}
	data, err := realtime.EncodeEvent(realtime.AgentStatusEvent{AgentID: agentID, Status: status})
	if err != nil {
		return
	}
	h.fanOut(data)
}
