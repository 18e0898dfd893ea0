package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ paho.Client      = (*fakeClient)(nil)
	_ cover.Restorable = (*fakeCover)(nil)
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }

func (t fakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

type fakeMessage struct {
	topic    string
	payload  string
	retained bool
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return m.retained }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

type publication struct {
	payload  string
	retained bool
}

// fakeClient records publishes and routes delivered messages to the
// handlers a bridge subscribed.
type fakeClient struct {
	mu        sync.Mutex
	published map[string][]publication
	handlers  map[string]paho.MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		published: map[string][]publication{},
		handlers:  map[string]paho.MessageHandler{},
	}
}

func (f *fakeClient) IsConnected() bool       { return true }
func (f *fakeClient) IsConnectionOpen() bool  { return true }
func (f *fakeClient) Connect() paho.Token     { return fakeToken{} }
func (f *fakeClient) Disconnect(quiesce uint) {}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	default:
		return fakeToken{err: errors.Errorf("unsupported payload type %T", payload)}
	}
	f.published[topic] = append(f.published[topic], publication{payload: body, retained: retained})
	return fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = callback
	return fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(filters map[string]byte, callback paho.MessageHandler) paho.Token {
	for topic := range filters {
		f.Subscribe(topic, 0, callback)
	}
	return fakeToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, topic := range topics {
		delete(f.handlers, topic)
	}
	return fakeToken{}
}

func (f *fakeClient) AddRoute(topic string, callback paho.MessageHandler) {}

func (f *fakeClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (f *fakeClient) subscribed(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[topic]
	return ok
}

func (f *fakeClient) handler(t *testing.T, topic string) paho.MessageHandler {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	handler, ok := f.handlers[topic]
	require.True(t, ok, "no handler subscribed on %s", topic)
	return handler
}

func (f *fakeClient) deliver(t *testing.T, topic, payload string) {
	t.Helper()
	f.handler(t, topic)(f, fakeMessage{topic: topic, payload: payload})
}

func (f *fakeClient) deliverRetained(t *testing.T, topic, payload string) {
	t.Helper()
	f.handler(t, topic)(f, fakeMessage{topic: topic, payload: payload, retained: true})
}

func (f *fakeClient) lastPayload(t *testing.T, topic string) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	published := f.published[topic]
	require.NotEmpty(t, published, "nothing published on %s", topic)
	return published[len(published)-1].payload
}

func (f *fakeClient) retainedLast(t *testing.T, topic string) bool {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	published := f.published[topic]
	require.NotEmpty(t, published, "nothing published on %s", topic)
	return published[len(published)-1].retained
}

// fakeCover records the mutations a bridge forwards to it.
type fakeCover struct {
	mu       sync.Mutex
	name     string
	snapshot cover.Snapshot
	handlers []cover.UpdateHandler
	calls    []string
	restored []cover.Snapshot
}

func newFakeCover(name string) *fakeCover {
	return &fakeCover{
		name: name,
		snapshot: cover.Snapshot{
			Position:      25,
			Direction:     cover.Idle,
			LastDirection: cover.Closing,
			TravelTime:    30 * time.Second,
			PulseGap:      800 * time.Millisecond,
		},
	}
}

func (f *fakeCover) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeCover) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeCover) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeCover) Name() string  { return f.name }
func (f *fakeCover) Position() int { return int(math.Round(f.Snapshot().Position)) }
func (f *fakeCover) State() string { return f.Snapshot().State() }

func (f *fakeCover) Snapshot() cover.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeCover) OnUpdate(h cover.UpdateHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

func (f *fakeCover) notify(s cover.Snapshot) {
	f.mu.Lock()
	f.snapshot = s
	handlers := append([]cover.UpdateHandler(nil), f.handlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(s)
	}
}

func (f *fakeCover) Open(ctx context.Context) error  { f.record("open"); return nil }
func (f *fakeCover) Close(ctx context.Context) error { f.record("close"); return nil }
func (f *fakeCover) Stop(ctx context.Context) error  { f.record("stop"); return nil }

func (f *fakeCover) SetPosition(ctx context.Context, position int) error {
	f.record(fmt.Sprintf("set position %d", position))
	return nil
}

func (f *fakeCover) SetTravelTime(d time.Duration) {
	f.record(fmt.Sprintf("set travel time %s", d))
}

func (f *fakeCover) SetPulseGap(d time.Duration) {
	f.record(fmt.Sprintf("set pulse gap %s", d))
}

func (f *fakeCover) OverridePosition(position float64) {
	f.record(fmt.Sprintf("override position %v", position))
}

func (f *fakeCover) OverrideDirection(ctx context.Context, d cover.Direction) error {
	f.record(fmt.Sprintf("override direction %s", d))
	return nil
}

func (f *fakeCover) OverrideLastDirection(d cover.Direction) error {
	if d == cover.Idle {
		return errors.Errorf("%s: idle is not a movement", f.name)
	}
	f.record(fmt.Sprintf("override last direction %s", d))
	return nil
}

func (f *fakeCover) Restore(s cover.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restored = append(f.restored, s)
}

func (f *fakeCover) restores() []cover.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cover.Snapshot(nil), f.restored...)
}

// plainCover hides the Restore method of the embedded cover.
type plainCover struct{ cover.Cover }

func TestBridgeTopics(t *testing.T) {
	b := NewBridge(newFakeClient(), newFakeCover("kitchen"))

	assert.Equal(t, "impulse2mqtt/kitchen/state", b.StateTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/position", b.PositionTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/attributes", b.AttributesTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/set", b.CommandTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/position/set", b.PositionChangeTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/position/override", b.PositionOverrideTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/travel_time", b.TravelTimeTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/travel_time/set", b.TravelTimeChangeTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/pulse_gap", b.PulseGapTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/pulse_gap/set", b.PulseGapChangeTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/direction", b.DirectionTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/direction/set", b.DirectionChangeTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/last_direction", b.LastDirectionTopic)
	assert.Equal(t, "impulse2mqtt/kitchen/last_direction/set", b.LastDirectionChangeTopic)
}

func TestBridgeCommands(t *testing.T) {
	client := newFakeClient()
	fc := newFakeCover("kitchen")
	b := NewBridge(client, fc)
	require.NoError(t, b.Subscribe(context.Background()))

	t.Run("open close stop dispatch to the cover", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.CommandTopic, "open")
		client.deliver(t, b.CommandTopic, "close")
		client.deliver(t, b.CommandTopic, "stop")
		client.deliver(t, b.CommandTopic, "reticulate")

		assert.Equal(t, []string{"open", "close", "stop"}, fc.recorded())
	})

	t.Run("target position parses and forwards", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.PositionChangeTopic, "40")
		client.deliver(t, b.PositionChangeTopic, " 60 ")
		client.deliver(t, b.PositionChangeTopic, "4x")

		assert.Equal(t, []string{"set position 40", "set position 60"}, fc.recorded())
	})

	t.Run("position override takes floats", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.PositionOverrideTopic, "37.5")
		client.deliver(t, b.PositionOverrideTopic, "nope")

		assert.Equal(t, []string{"override position 37.5"}, fc.recorded())
	})

	t.Run("travel time accepts plain and decimal seconds", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.TravelTimeChangeTopic, "45")
		client.deliver(t, b.TravelTimeChangeTopic, "45.0")
		client.deliver(t, b.TravelTimeChangeTopic, "soon")

		assert.Equal(t, []string{"set travel time 45s", "set travel time 45s"}, fc.recorded())
	})

	t.Run("pulse gap accepts decimal seconds", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.PulseGapChangeTopic, "1.5")

		assert.Equal(t, []string{"set pulse gap 1.5s"}, fc.recorded())
	})

	t.Run("direction override parses", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.DirectionChangeTopic, "closing")
		client.deliver(t, b.DirectionChangeTopic, "sideways")

		assert.Equal(t, []string{"override direction closing"}, fc.recorded())
	})

	t.Run("last direction override parses and surfaces rejections", func(t *testing.T) {
		fc.reset()
		client.deliver(t, b.LastDirectionChangeTopic, "opening")
		client.deliver(t, b.LastDirectionChangeTopic, "idle")

		assert.Equal(t, []string{"override last direction opening"}, fc.recorded())
	})
}

func TestBridgePublishesUpdates(t *testing.T) {
	client := newFakeClient()
	fc := newFakeCover("garage")
	b := NewBridge(client, fc)

	fc.notify(cover.Snapshot{
		Position:      62.5,
		Direction:     cover.Opening,
		LastDirection: cover.Opening,
		TravelTime:    45 * time.Second,
		PulseGap:      1500 * time.Millisecond,
	})

	assert.Equal(t, "opening", client.lastPayload(t, b.StateTopic))
	assert.Equal(t, "63", client.lastPayload(t, b.PositionTopic))
	assert.Equal(t, "opening", client.lastPayload(t, b.DirectionTopic))
	assert.Equal(t, "opening", client.lastPayload(t, b.LastDirectionTopic))
	assert.Equal(t, "45", client.lastPayload(t, b.TravelTimeTopic))
	assert.Equal(t, "1.5", client.lastPayload(t, b.PulseGapTopic))

	var attrs coverAttributes
	require.NoError(t, json.Unmarshal([]byte(client.lastPayload(t, b.AttributesTopic)), &attrs))
	assert.Equal(t, coverAttributes{
		Position:      62.5,
		Direction:     "opening",
		LastDirection: "opening",
		TravelTime:    45,
		PulseGap:      1.5,
	}, attrs)

	for _, topic := range []string{b.StateTopic, b.PositionTopic, b.AttributesTopic} {
		assert.True(t, client.retainedLast(t, topic), "%s should be retained", topic)
	}

	fc.notify(cover.Snapshot{
		Position:      100,
		Direction:     cover.Idle,
		LastDirection: cover.Opening,
		TravelTime:    45 * time.Second,
		PulseGap:      1500 * time.Millisecond,
	})

	assert.Equal(t, "open", client.lastPayload(t, b.StateTopic))
	assert.Equal(t, "100", client.lastPayload(t, b.PositionTopic))
	assert.Equal(t, "idle", client.lastPayload(t, b.DirectionTopic))
}

func TestBridgeRestoresAttributes(t *testing.T) {
	t.Run("retained document is applied", func(t *testing.T) {
		client := newFakeClient()
		fc := newFakeCover("garage")
		b := NewBridge(client, fc)

		require.False(t, client.subscribed(b.AttributesTopic),
			"restore must not subscribe before the client is connected")
		require.NoError(t, b.Subscribe(context.Background()))
		require.True(t, client.subscribed(b.AttributesTopic))

		client.deliverRetained(t, b.AttributesTopic,
			`{"position":80,"direction":"idle","last_direction":"opening","travel_time":25,"pulse_gap":1.5}`)

		restored := fc.restores()
		require.Len(t, restored, 1)
		assert.Equal(t, 80.0, restored[0].Position)
		assert.Equal(t, cover.Idle, restored[0].Direction)
		assert.Equal(t, cover.Opening, restored[0].LastDirection)
		assert.Equal(t, 25*time.Second, restored[0].TravelTime)
		assert.Equal(t, 1500*time.Millisecond, restored[0].PulseGap)

		assert.False(t, client.subscribed(b.AttributesTopic),
			"restore subscription should be dropped after the first document")
	})

	t.Run("live messages and redeliveries do not restore twice", func(t *testing.T) {
		client := newFakeClient()
		fc := newFakeCover("garage")
		b := NewBridge(client, fc)
		require.NoError(t, b.Subscribe(context.Background()))

		handler := client.handler(t, b.AttributesTopic)
		document := `{"position":80,"direction":"idle","last_direction":"opening","travel_time":25,"pulse_gap":1.5}`

		// the bridge's own republication arrives live, not retained
		handler(client, fakeMessage{topic: b.AttributesTopic, payload: document})
		assert.Empty(t, fc.restores())

		handler(client, fakeMessage{topic: b.AttributesTopic, payload: document, retained: true})
		// a reconnect redelivers the stored document
		handler(client, fakeMessage{topic: b.AttributesTopic, payload: document, retained: true})

		assert.Len(t, fc.restores(), 1)
	})

	t.Run("malformed document does not consume the restore", func(t *testing.T) {
		client := newFakeClient()
		fc := newFakeCover("garage")
		b := NewBridge(client, fc)
		require.NoError(t, b.Subscribe(context.Background()))

		client.deliverRetained(t, b.AttributesTopic, `{"position":`)
		client.deliverRetained(t, b.AttributesTopic,
			`{"position":10,"direction":"sideways","last_direction":"opening","travel_time":25,"pulse_gap":1.5}`)
		assert.Empty(t, fc.restores())

		client.deliverRetained(t, b.AttributesTopic,
			`{"position":10,"direction":"idle","last_direction":"opening","travel_time":25,"pulse_gap":1.5}`)
		assert.Len(t, fc.restores(), 1)
	})

	t.Run("cover without restore support is left alone", func(t *testing.T) {
		client := newFakeClient()
		b := NewBridge(client, plainCover{newFakeCover("plain")})
		require.NoError(t, b.Subscribe(context.Background()))

		assert.False(t, client.subscribed(b.AttributesTopic))
	})

	t.Run("a reconnect after the restore does not resubscribe", func(t *testing.T) {
		client := newFakeClient()
		fc := newFakeCover("garage")
		b := NewBridge(client, fc)
		require.NoError(t, b.Subscribe(context.Background()))

		client.deliverRetained(t, b.AttributesTopic,
			`{"position":80,"direction":"idle","last_direction":"opening","travel_time":25,"pulse_gap":1.5}`)
		require.Len(t, fc.restores(), 1)
		require.False(t, client.subscribed(b.AttributesTopic))

		require.NoError(t, b.Subscribe(context.Background()))
		assert.False(t, client.subscribed(b.AttributesTopic))
	})
}

func TestBridgeUnsubscribesOnContextEnd(t *testing.T) {
	client := newFakeClient()
	b := NewBridge(client, newFakeCover("garage"))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, b.Subscribe(ctx))
	require.True(t, client.subscribed(b.CommandTopic))
	require.True(t, client.subscribed(b.LastDirectionChangeTopic))

	cancel()

	require.Eventually(t, func() bool {
		return !client.subscribed(b.CommandTopic) && !client.subscribed(b.LastDirectionChangeTopic)
	}, 2*time.Second, time.Millisecond)
}
