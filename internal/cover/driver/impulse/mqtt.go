package impulse

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTT drives an impulse relay exposed over MQTT, such as a Shelly or a
// zigbee2mqtt toggle wired to the motor controller input.
type MQTT struct {
	client paho.Client

	name           string
	CommandTopic   string
	CommandPayload string
	StateTopic     string
	ActivePayload  string

	mu         sync.Mutex
	onActivate ActivationHandler
}

func NewMQTT(client paho.Client, name, commandTopic, stateTopic string) *MQTT {
	return &MQTT{
		client:         client,
		name:           name,
		CommandTopic:   commandTopic,
		CommandPayload: "ON",
		StateTopic:     stateTopic,
		ActivePayload:  "ON",
	}
}

func (m *MQTT) Pulse(ctx context.Context) error {
	token := m.client.Publish(m.CommandTopic, 0, false, m.CommandPayload)
	if token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: mqtt switch publish", m.name)
	}
	logrus.Debugf("%s: mqtt switch pulse published to %s", m.name, m.CommandTopic)
	return nil
}

func (m *MQTT) OnActivate(h ActivationHandler) {
	m.mu.Lock()
	m.onActivate = h
	m.mu.Unlock()
}

// Subscribe starts delivering activations reported on the state topic.
// Call it again after a reconnect.
func (m *MQTT) Subscribe(ctx context.Context) error {
	handler := func(_ paho.Client, msg paho.Message) {
		// a retained state is history, not a fresh activation
		if msg.Retained() {
			return
		}
		if !m.isActive(msg.Payload()) {
			return
		}

		m.mu.Lock()
		h := m.onActivate
		m.mu.Unlock()

		if h != nil {
			h(ctx)
		}
	}

	if token := m.client.Subscribe(m.StateTopic, 0, handler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: mqtt switch subscribe %s", m.name, m.StateTopic)
	}
	logrus.Infof("%s: mqtt switch subscribed to %s", m.name, m.StateTopic)
	return nil
}

// isActive accepts both bare payloads and zigbee2mqtt style JSON state
// documents.
func (m *MQTT) isActive(payload []byte) bool {
	if strings.EqualFold(strings.TrimSpace(string(payload)), m.ActivePayload) {
		return true
	}

	var doc struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false
	}
	return strings.EqualFold(doc.State, m.ActivePayload)
}
