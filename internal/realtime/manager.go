package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/models"
)

const (
	defaultPingInterval     = 30 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 10 * time.Second
)

// State is the connection lifecycle:
//
//	idle -> connecting -> connected -> reconnecting -> connecting -> ...
//
// ending at idle (Disconnect) or gave_up (attempts exhausted).
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateGaveUp       State = "gave_up"
)

// Dialer opens the transport. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Scheduler runs fn after d and returns a function that cancels it.
// Implementations must not call fn synchronously.
type Scheduler func(d time.Duration, fn func()) (stop func() bool)

func timerScheduler(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, fn)
	return t.Stop
}

type Options struct {
	URL              string
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	Backoff          Backoff
	Dialer           Dialer
	Schedule         Scheduler
	Logger           *logger.Logger
	Metrics          *metrics.Metrics
}

// Manager owns the single live socket of a session and keeps it alive
// across transient failures.
type Manager struct {
	opts    Options
	log     *logger.Logger
	metrics *metrics.Metrics

	mu             sync.Mutex
	conn           *websocket.Conn
	token          string
	state          State
	attempts       int
	gen            uint64
	stopReconnect  func() bool
	stopPing       chan struct{}
	frameHandler   func([]byte)
	stateListeners []func(State)

	// gorilla allows one concurrent writer
	writeMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}
	if opts.Schedule == nil {
		opts.Schedule = timerScheduler
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		opts:    opts,
		log:     log.Component("websocket"),
		metrics: opts.Metrics,
		state:   StateIdle,
	}
}

// OnFrame sets the handler for raw inbound frames. It runs on the read
// goroutine.
func (m *Manager) OnFrame(fn func([]byte)) {
	m.mu.Lock()
	m.frameHandler = fn
	m.mu.Unlock()
}

// OnStateChange registers a listener for lifecycle transitions, including
// the terminal gave_up state.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	m.stateListeners = append(m.stateListeners, fn)
	m.mu.Unlock()
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts is the number of reconnects scheduled since the last open.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// Connect replaces any existing connection with a new one authenticated by
// token. A dial failure is not returned: it starts the reconnect schedule.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	old := m.detachLocked()
	m.token = token
	m.attempts = 0
	changed := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.closeConn(old)
	m.emit(changed)
	m.dial(gen, token)
}

// Disconnect closes with a normal-closure code and cancels every timer.
// It is safe to call in any state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	conn := m.detachLocked()
	m.attempts = 0
	changed := m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if conn != nil {
		m.log.Info().Msg("disconnecting")
	}
	m.closeConn(conn)
	m.emit(changed)
}

// Send writes v as JSON when the socket is open. Nothing is queued: frames
// sent while disconnected are dropped and false is returned.
func (m *Manager) Send(v interface{}) bool {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateConnected
	m.mu.Unlock()

	if conn == nil || !open {
		return false
	}
	if err := m.write(conn, v); err != nil {
		m.log.Warn().Err(err).Msg("send failed")
		return false
	}
	return true
}

func (m *Manager) endpoint(token string) (string, error) {
	u, err := url.Parse(m.opts.URL)
	if err != nil {
		return "", fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *Manager) dial(gen uint64, token string) {
	var conn *websocket.Conn
	target, err := m.endpoint(token)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.opts.HandshakeTimeout)
		var resp *http.Response
		conn, resp, err = m.opts.Dialer.DialContext(ctx, target, nil)
		cancel()
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
	}

	m.mu.Lock()
	if gen != m.gen {
		// superseded by Connect or Disconnect while dialing
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Int("attempt", m.attempts).Msg("connection failed")
		changed := m.scheduleReconnectLocked(gen)
		m.mu.Unlock()
		m.emit(changed)
		return
	}

	m.conn = conn
	m.attempts = 0
	stop := make(chan struct{})
	m.stopPing = stop
	changed := m.setStateLocked(StateConnected)
	m.mu.Unlock()

	m.log.Info().Str("url", m.opts.URL).Msg("connected")
	m.metrics.SetConnected(true)
	m.emit(changed)

	go m.readPump(conn)
	go m.pingPump(conn, stop)
}

func (m *Manager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.stopReconnect = nil
	token := m.token
	changed := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.emit(changed)
	m.dial(gen, token)
}

// scheduleReconnectLocked must be called with m.mu held.
func (m *Manager) scheduleReconnectLocked(gen uint64) State {
	if m.opts.Backoff.Exhausted(m.attempts) {
		m.log.Error().Int("attempts", m.attempts).Msg("giving up on reconnection")
		m.metrics.RecordGaveUp()
		return m.setStateLocked(StateGaveUp)
	}

	delay := m.opts.Backoff.Delay(m.attempts)
	m.attempts++
	m.metrics.RecordReconnect()
	m.log.Info().
		Int("attempt", m.attempts).
		Int("max_attempts", m.opts.Backoff.MaxAttempts).
		Dur("delay", delay).
		Msg("scheduling reconnect")

	m.stopReconnect = m.opts.Schedule(delay, func() { m.reconnect(gen) })
	return m.setStateLocked(StateReconnecting)
}

// handleClose runs when the read pump of conn stops.
func (m *Manager) handleClose(conn *websocket.Conn, code int) {
	m.mu.Lock()
	if m.conn != conn {
		// already detached by Connect or Disconnect
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.stopPingLocked()

	var changed State
	if code == websocket.CloseNormalClosure {
		m.log.Info().Msg("connection closed normally")
		changed = m.setStateLocked(StateIdle)
	} else {
		m.log.Warn().Int("code", code).Msg("connection closed abnormally")
		changed = m.scheduleReconnectLocked(m.gen)
	}
	m.mu.Unlock()

	conn.Close()
	m.metrics.SetConnected(false)
	m.emit(changed)
}

func (m *Manager) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			m.handleClose(conn, code)
			return
		}

		m.mu.Lock()
		handler := m.frameHandler
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (m *Manager) pingPump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := m.write(conn, models.PingFrame{Type: "ping"})
			m.metrics.RecordFrameSent("ping", err == nil)
			if err != nil {
				// the read pump notices the broken socket
				m.log.Debug().Err(err).Msg("keep-alive failed")
				return
			}
		}
	}
}

func (m *Manager) write(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// detachLocked clears the socket and all timers and returns the socket so
// the caller can close it outside the lock.
func (m *Manager) detachLocked() *websocket.Conn {
	if m.stopReconnect != nil {
		m.stopReconnect()
		m.stopReconnect = nil
	}
	m.stopPingLocked()
	conn := m.conn
	m.conn = nil
	return conn
}

func (m *Manager) stopPingLocked() {
	if m.stopPing != nil {
		close(m.stopPing)
		m.stopPing = nil
	}
}

func (m *Manager) closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	conn.Close()
	m.metrics.SetConnected(false)
}

// setStateLocked returns the new state when it changed, "" otherwise.
func (m *Manager) setStateLocked(s State) State {
	if m.state == s {
		return ""
	}
	m.state = s
	return s
}

func (m *Manager) emit(s State) {
	if s == "" {
		return
	}
	m.mu.Lock()
	listeners := append([]func(State){}, m.stateListeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(s)
	}
}
