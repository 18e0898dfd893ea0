package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mqttOpenCmd  = "open"
	mqttCloseCmd = "close"
	mqttStopCmd  = "stop"
)

const topicPrefix = "impulse2mqtt"

func coverTopic(name, suffix string) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, name, suffix)
}

// coverAttributes is the retained document a bridge publishes on every cover
// update and reads back once on startup. Durations are expressed in seconds.
type coverAttributes struct {
	Position      float64 `json:"position"`
	Direction     string  `json:"direction"`
	LastDirection string  `json:"last_direction"`
	TravelTime    int     `json:"travel_time"`
	PulseGap      float64 `json:"pulse_gap"`
}

func newCoverAttributes(s cover.Snapshot) coverAttributes {
	return coverAttributes{
		Position:      s.Position,
		Direction:     string(s.Direction),
		LastDirection: string(s.LastDirection),
		TravelTime:    int(s.TravelTime / time.Second),
		PulseGap:      s.PulseGap.Seconds(),
	}
}

func (a coverAttributes) snapshot() (cover.Snapshot, error) {
	direction, err := cover.ParseDirection(a.Direction)
	if err != nil {
		return cover.Snapshot{}, err
	}
	lastDirection, err := cover.ParseDirection(a.LastDirection)
	if err != nil {
		return cover.Snapshot{}, err
	}

	return cover.Snapshot{
		Position:      a.Position,
		Direction:     direction,
		LastDirection: lastDirection,
		TravelTime:    time.Duration(a.TravelTime) * time.Second,
		PulseGap:      time.Duration(a.PulseGap * float64(time.Second)),
	}, nil
}

// Bridge exposes a single cover over MQTT: retained state, position and
// attribute topics on the way out, command and adjustment topics on the way
// in. The retained attribute document doubles as persistence and is read
// back once when the bridge is created.
type Bridge struct {
	mqtt  paho.Client
	cover cover.Cover

	StateTopic      string
	PositionTopic   string
	AttributesTopic string

	CommandTopic          string
	PositionChangeTopic   string
	PositionOverrideTopic string

	TravelTimeTopic       string
	TravelTimeChangeTopic string

	PulseGapTopic       string
	PulseGapChangeTopic string

	DirectionTopic       string
	DirectionChangeTopic string

	LastDirectionTopic       string
	LastDirectionChangeTopic string

	restoreMu   sync.Mutex
	restoreDone bool
}

func NewBridge(mqtt paho.Client, c cover.Cover) *Bridge {
	bridge := &Bridge{mqtt: mqtt, cover: c}
	name := c.Name()
	bridge.StateTopic = coverTopic(name, "state")
	bridge.PositionTopic = coverTopic(name, "position")
	bridge.AttributesTopic = coverTopic(name, "attributes")
	bridge.CommandTopic = coverTopic(name, "set")
	bridge.PositionChangeTopic = coverTopic(name, "position/set")
	bridge.PositionOverrideTopic = coverTopic(name, "position/override")
	bridge.TravelTimeTopic = coverTopic(name, "travel_time")
	bridge.TravelTimeChangeTopic = coverTopic(name, "travel_time/set")
	bridge.PulseGapTopic = coverTopic(name, "pulse_gap")
	bridge.PulseGapChangeTopic = coverTopic(name, "pulse_gap/set")
	bridge.DirectionTopic = coverTopic(name, "direction")
	bridge.DirectionChangeTopic = coverTopic(name, "direction/set")
	bridge.LastDirectionTopic = coverTopic(name, "last_direction")
	bridge.LastDirectionChangeTopic = coverTopic(name, "last_direction/set")

	if _, ok := c.(cover.Restorable); !ok {
		logrus.Warnf("%s: MQTT attribute restore: cover is not restorable", name)
		bridge.restoreDone = true
	}

	c.OnUpdate(bridge.onCoverUpdateHandler())

	return bridge
}

// Subscribe attaches all command handlers and detaches them once ctx ends.
// The first call also subscribes the one-shot attribute restore.
func (b *Bridge) Subscribe(ctx context.Context) error {
	if err := b.subscribeRestore(); err != nil {
		return err
	}

	subscriptions := []struct {
		topic   string
		handler paho.MessageHandler
	}{
		{b.CommandTopic, b.onCommandHandler(ctx)},
		{b.PositionChangeTopic, b.onPositionChangeHandler(ctx)},
		{b.PositionOverrideTopic, b.onPositionOverrideHandler()},
		{b.TravelTimeChangeTopic, b.onTravelTimeChangeHandler()},
		{b.PulseGapChangeTopic, b.onPulseGapChangeHandler()},
		{b.DirectionChangeTopic, b.onDirectionChangeHandler(ctx)},
		{b.LastDirectionChangeTopic, b.onLastDirectionChangeHandler()},
	}

	topics := make([]string, 0, len(subscriptions)+1)
	for _, s := range subscriptions {
		topics = append(topics, s.topic)
	}
	// the restore subscription normally removes itself, but a ctx ending
	// before any document arrived must not leak it
	topics = append(topics, b.AttributesTopic)

	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(topics...); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.cover.Name(), token.Error())
		}
	}()

	for _, s := range subscriptions {
		if token := b.mqtt.Subscribe(s.topic, 0, s.handler); token.Wait() && token.Error() != nil {
			return errors.Wrapf(token.Error(), "%s: MQTT %s subscription failed", b.cover.Name(), s.topic)
		}
		logrus.Debugf("%s: MQTT %s subscribed", b.cover.Name(), s.topic)
	}
	logrus.Infof("%s: MQTT command topics subscribed", b.cover.Name())

	return nil
}

func (b *Bridge) onCoverUpdateHandler() cover.UpdateHandler {
	return func(s cover.Snapshot) {
		b.publish(b.StateTopic, s.State())
		b.publish(b.PositionTopic, strconv.Itoa(int(math.Round(s.Position))))
		b.publish(b.DirectionTopic, string(s.Direction))
		b.publish(b.LastDirectionTopic, string(s.LastDirection))
		b.publish(b.TravelTimeTopic, strconv.Itoa(int(s.TravelTime/time.Second)))
		b.publish(b.PulseGapTopic, strconv.FormatFloat(s.PulseGap.Seconds(), 'f', -1, 64))

		payload, err := json.Marshal(newCoverAttributes(s))
		if err != nil {
			logrus.Errorf("%s: MQTT attributes marshal failed: %s", b.cover.Name(), err)
			return
		}
		b.publish(b.AttributesTopic, payload)
	}
}

// publish emits a retained message so late subscribers and restarts see the
// latest value.
func (b *Bridge) publish(topic string, payload interface{}) {
	if token := b.mqtt.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT %s publish failed: %s", b.cover.Name(), topic, token.Error())
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		cmd := string(msg.Payload())
		var err error
		switch cmd {
		case mqttOpenCmd:
			err = b.cover.Open(ctx)
		case mqttCloseCmd:
			err = b.cover.Close(ctx)
		case mqttStopCmd:
			err = b.cover.Stop(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.cover.Name(), cmd)
		}
		if err != nil {
			logrus.Errorf("%s: MQTT %s command failed: %s", b.cover.Name(), cmd, err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, err := strconv.Atoi(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT position change dropped: %s", b.cover.Name(), err)
			return
		}
		if err := b.cover.SetPosition(ctx, pos); err != nil {
			logrus.Errorf("%s: MQTT position change failed: %s", b.cover.Name(), err)
		}
	}
}

func (b *Bridge) onPositionOverrideHandler() paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		pos, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			logrus.Errorf("%s: MQTT position override dropped: %s", b.cover.Name(), err)
			return
		}
		b.cover.OverridePosition(pos)
	}
}

func (b *Bridge) onTravelTimeChangeHandler() paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		secs, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			logrus.Errorf("%s: MQTT travel time change dropped: %s", b.cover.Name(), err)
			return
		}
		b.cover.SetTravelTime(time.Duration(secs * float64(time.Second)))
	}
}

func (b *Bridge) onPulseGapChangeHandler() paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		secs, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Payload())), 64)
		if err != nil {
			logrus.Errorf("%s: MQTT pulse gap change dropped: %s", b.cover.Name(), err)
			return
		}
		b.cover.SetPulseGap(time.Duration(secs * float64(time.Second)))
	}
}

func (b *Bridge) onDirectionChangeHandler(ctx context.Context) paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		direction, err := cover.ParseDirection(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT direction override dropped: %s", b.cover.Name(), err)
			return
		}
		if err := b.cover.OverrideDirection(ctx, direction); err != nil {
			logrus.Errorf("%s: MQTT direction override failed: %s", b.cover.Name(), err)
		}
	}
}

func (b *Bridge) onLastDirectionChangeHandler() paho.MessageHandler {
	return func(c paho.Client, msg paho.Message) {
		direction, err := cover.ParseDirection(strings.TrimSpace(string(msg.Payload())))
		if err != nil {
			logrus.Errorf("%s: MQTT last direction override dropped: %s", b.cover.Name(), err)
			return
		}
		if err := b.cover.OverrideLastDirection(direction); err != nil {
			logrus.Errorf("%s: MQTT last direction override failed: %s", b.cover.Name(), err)
		}
	}
}

// subscribeRestore attaches the one-shot handler applying the retained
// attribute document from a previous run. Once the document has been
// applied, reconnects no longer resubscribe it.
func (b *Bridge) subscribeRestore() error {
	b.restoreMu.Lock()
	done := b.restoreDone
	b.restoreMu.Unlock()
	if done {
		return nil
	}

	restorable, ok := b.cover.(cover.Restorable)
	if !ok {
		return nil
	}

	restoreHandler := func(c paho.Client, msg paho.Message) {
		// only the broker-stored document is history; a live message on this
		// topic is the bridge's own republication
		if !msg.Retained() {
			return
		}

		var attrs coverAttributes
		if err := json.Unmarshal(msg.Payload(), &attrs); err != nil {
			logrus.Errorf("%s: MQTT attribute restore: malformed document: %s", b.cover.Name(), err)
			return
		}
		snapshot, err := attrs.snapshot()
		if err != nil {
			logrus.Errorf("%s: MQTT attribute restore: malformed document: %s", b.cover.Name(), err)
			return
		}

		// a reconnect can redeliver the stored document, apply it once
		b.restoreMu.Lock()
		if b.restoreDone {
			b.restoreMu.Unlock()
			return
		}
		b.restoreDone = true
		b.restoreMu.Unlock()

		restorable.Restore(snapshot)
		logrus.Infof("%s: MQTT attributes restored", b.cover.Name())

		if token := b.mqtt.Unsubscribe(b.AttributesTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT attribute restore topic unsubscribe failed: %s", b.cover.Name(), token.Error())
			return
		}
		logrus.Debugf("%s: MQTT attribute restore topic unsubscribed", b.cover.Name())
	}

	if token := b.mqtt.Subscribe(b.AttributesTopic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT attribute restore topic subscription failed", b.cover.Name())
	}

	return nil
}
