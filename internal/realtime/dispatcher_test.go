package realtime

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sozuri-connect/internal/metrics"
	"sozuri-connect/internal/models"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	sent      []interface{}
	handler   func([]byte)
}

func (f *fakeTransport) Send(v interface{}) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeTransport) OnFrame(fn func([]byte)) { f.handler = fn }

func (f *fakeTransport) deliver(raw string) { f.handler([]byte(raw)) }

func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeTransport, *metrics.Metrics) {
	t.Helper()
	tr := &fakeTransport{connected: true}
	m := metrics.New(prometheus.NewRegistry())
	return NewDispatcher(tr, nil, m), tr, m
}

func TestDispatcherSubscribesToTransport(t *testing.T) {
	_, tr, _ := newTestDispatcher(t)
	require.NotNil(t, tr.handler)
}

func TestPongAndUnknownFramesAreNotDelivered(t *testing.T) {
	d, tr, m := newTestDispatcher(t)

	var got []Event
	d.AddEventListener(func(ev Event) { got = append(got, ev) })

	tr.deliver(`{"type":"pong"}`)
	tr.deliver(`{"type":"presence","data":{}}`)
	tr.deliver(`{"type":"message","data":{"id":"m1","conversation_id":"c1","content":"hi","sender_type":"user","status":"sent"}}`)

	require.Len(t, got, 1)
	assert.Equal(t, EventMessage, got[0].Type())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WsFramesReceived.WithLabelValues("pong")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WsFramesDropped.WithLabelValues("unknown_type")))
}

func TestMalformedFramesAreDropped(t *testing.T) {
	d, tr, m := newTestDispatcher(t)

	calls := 0
	d.AddEventListener(func(Event) { calls++ })

	assert.NotPanics(t, func() {
		tr.deliver(`not json`)
		tr.deliver(`{"type":"message"}`)
		tr.deliver(`{"type":"message","data":"oops"}`)
		tr.deliver(`{"type":"typing","data":{"conversation_id":"c1"}}`)
		tr.deliver(`{"type":"message_status","data":{"message_id":"m1","status":"lost"}}`)
	})
	assert.Zero(t, calls)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.WsFramesDropped.WithLabelValues("malformed")))
}

func TestPanickingListenerDoesNotStarveOthers(t *testing.T) {
	d, tr, m := newTestDispatcher(t)

	var order []string
	d.AddEventListener(func(Event) { order = append(order, "first") })
	d.AddEventListener(func(Event) { panic("boom") })
	d.AddEventListener(func(Event) { order = append(order, "third") })

	tr.deliver(`{"type":"agent_status","data":{"agent_id":"a1","status":"away"}}`)

	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ListenerPanicsTotal))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)

	a, b := 0, 0
	unsubA := d.AddEventListener(func(Event) { a++ })
	d.AddEventListener(func(Event) { b++ })

	frame := `{"type":"typing","data":{"conversation_id":"c1","user_id":"u1","is_typing":true}}`
	tr.deliver(frame)
	unsubA()
	unsubA()
	tr.deliver(frame)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)

	calls := 0
	var unsub func()
	unsub = d.AddEventListener(func(Event) {
		calls++
		unsub()
	})
	d.AddEventListener(func(Event) { calls++ })

	frame := `{"type":"message_status","data":{"message_id":"m1","status":"read"}}`
	tr.deliver(frame)
	tr.deliver(frame)

	assert.Equal(t, 3, calls)
}

func TestDecodedEventPayloads(t *testing.T) {
	d, tr, _ := newTestDispatcher(t)

	var got []Event
	d.AddEventListener(func(ev Event) { got = append(got, ev) })

	tr.deliver(`{"type":"conversation_update","data":{"id":"c1","status":"resolved","customer":{"id":"u1","name":"Ann","email":"ann@example.com"}}}`)
	tr.deliver(`{"type":"typing","data":{"conversation_id":"c1","user_id":"u1","is_typing":false}}`)
	tr.deliver(`{"type":"message_status","data":{"message_id":"m9","status":"delivered"}}`)

	require.Len(t, got, 3)

	conv, ok := got[0].(ConversationUpdateEvent)
	require.True(t, ok)
	assert.Equal(t, models.ConversationResolved, conv.Conversation.Status)
	assert.Equal(t, "Ann", conv.Conversation.Customer.Name)

	assert.Equal(t, TypingEvent{ConversationID: "c1", UserID: "u1", IsTyping: false}, got[1])
	assert.Equal(t, MessageStatusEvent{MessageID: "m9", Status: models.StatusDelivered}, got[2])
}

func TestSendHelpersFrameOutboundMessages(t *testing.T) {
	d, tr, m := newTestDispatcher(t)

	assert.True(t, d.SendTypingIndicator("c1", true))
	assert.True(t, d.SendReadReceipt("m1"))

	require.Len(t, tr.sent, 2)
	assert.Equal(t, models.TypingFrame{Type: "typing", ConversationID: "c1", IsTyping: true}, tr.sent[0])
	assert.Equal(t, models.ReadReceiptFrame{Type: "read_receipt", MessageID: "m1"}, tr.sent[1])

	tr.connected = false
	assert.False(t, d.SendTypingIndicator("c1", false))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WsFramesSent.WithLabelValues("typing", "dropped")))
}
