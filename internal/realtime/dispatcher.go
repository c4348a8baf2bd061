package realtime

import (
	"errors"
	"sync"

	"sozuri-connect/internal/logger"
	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/models"
)

// Transport is the part of the Manager the dispatcher needs.
type Transport interface {
	Send(v interface{}) bool
	OnFrame(fn func([]byte))
}

type Listener func(Event)

type listenerEntry struct {
	id uint64
	fn Listener
}

// Dispatcher turns raw frames into typed events and fans them out to
// listeners in registration order.
type Dispatcher struct {
	transport Transport
	log       *logger.Logger
	metrics   *metrics.Metrics

	mu        sync.RWMutex
	nextID    uint64
	listeners []listenerEntry
}

// NewDispatcher subscribes to the transport's inbound frames.
func NewDispatcher(t Transport, log *logger.Logger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logger.Nop()
	}
	d := &Dispatcher{
		transport: t,
		log:       log.Component("dispatcher"),
		metrics:   m,
	}
	t.OnFrame(d.HandleFrame)
	return d
}

// AddEventListener registers fn and returns a function that removes it.
func (d *Dispatcher) AddEventListener(fn Listener) func() {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.listeners = append(d.listeners, listenerEntry{id: id, fn: fn})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(id) })
	}
}

func (d *Dispatcher) remove(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, l := range d.listeners {
		if l.id == id {
			d.listeners = append(d.listeners[:i:i], d.listeners[i+1:]...)
			return
		}
	}
}

// HandleFrame decodes raw and delivers the event. Bad input is logged and
// dropped; it never panics.
func (d *Dispatcher) HandleFrame(raw []byte) {
	ev, err := DecodeFrame(raw)
	switch {
	case errors.Is(err, ErrPong):
		d.metrics.RecordFrameReceived(framePong)
		return
	case errors.Is(err, ErrUnknownType):
		d.log.Warn().Err(err).Msg("dropping frame")
		d.metrics.RecordFrameDropped("unknown_type")
		return
	case err != nil:
		d.log.Warn().Err(err).Msg("dropping frame")
		d.metrics.RecordFrameDropped("malformed")
		return
	}

	d.metrics.RecordFrameReceived(string(ev.Type()))
	d.Dispatch(ev)
}

// Dispatch delivers ev to every listener. Each listener runs in its own
// recover boundary so one failing listener cannot starve the others.
func (d *Dispatcher) Dispatch(ev Event) {
	d.mu.RLock()
	listeners := make([]listenerEntry, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, l := range listeners {
		d.deliver(l.fn, ev)
	}
}

func (d *Dispatcher) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("event", string(ev.Type())).
				Msg("event listener panicked")
			d.metrics.RecordListenerPanic()
		}
	}()
	fn(ev)
}

func (d *Dispatcher) SendTypingIndicator(conversationID string, isTyping bool) bool {
	ok := d.transport.Send(models.TypingFrame{
		Type:           "typing",
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
	d.metrics.RecordFrameSent("typing", ok)
	return ok
}

func (d *Dispatcher) SendReadReceipt(messageID string) bool {
	ok := d.transport.Send(models.ReadReceiptFrame{
		Type:      "read_receipt",
		MessageID: messageID,
	})
	d.metrics.RecordFrameSent("read_receipt", ok)
	return ok
}
