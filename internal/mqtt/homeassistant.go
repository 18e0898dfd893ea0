package mqtt

import (
	"encoding/json"
	"fmt"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/jkaflik/impulse2mqtt/internal/cover/driver/impulse"
	"github.com/pkg/errors"
)

type haDevice struct {
	Identifiers  []string `json:"ids,omitempty"`
	Manufacturer string   `json:"mf,omitempty"`
	Model        string   `json:"mdl,omitempty"`
	Name         string   `json:"name,omitempty"`
	SWVersion    string   `json:"sw,omitempty"`
}

type haEntity struct {
	AvailabilityTopic string `json:"avty_t,omitempty"`
	UniqueID          string `json:"uniq_id,omitempty"`
	Name              string `json:"name,omitempty"`
	DeviceClass       string `json:"device_class,omitempty"`
	EntityCategory    string `json:"entity_category,omitempty"`

	Device haDevice `json:"device,omitempty"`
}

type haCover struct {
	haEntity
	StateTopic       string `json:"stat_t"`
	CommandTopic     string `json:"cmd_t"`
	PositionTopic    string `json:"pos_t"`
	SetPositionTopic string `json:"set_pos_t"`
	PositionOpen     int    `json:"pos_open"`
	PositionClosed   int    `json:"pos_clsd"`
	PayloadOpen      string `json:"pl_open"`
	PayloadStop      string `json:"pl_stop"`
	PayloadClose     string `json:"pl_cls"`
}

type haNumber struct {
	haEntity
	StateTopic   string  `json:"stat_t"`
	CommandTopic string  `json:"cmd_t"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Step         float64 `json:"step"`
	Unit         string  `json:"unit_of_meas,omitempty"`
	Mode         string  `json:"mode,omitempty"`
}

type haSelect struct {
	haEntity
	StateTopic   string   `json:"stat_t"`
	CommandTopic string   `json:"cmd_t"`
	Options      []string `json:"options"`
}

func haDeviceForCover(name string) haDevice {
	return haDevice{
		Identifiers:  []string{fmt.Sprintf("impulse2mqtt_%s", name)},
		Manufacturer: "impulse2mqtt",
		Model:        "impulse cover",
		Name:         name,
		SWVersion:    "impulse2mqtt",
	}
}

func NewHACoverFromBridge(bridge *Bridge) haCover {
	name := bridge.cover.Name()

	return haCover{
		haEntity: haEntity{
			UniqueID:    name,
			Name:        name,
			DeviceClass: "shutter",
			Device:      haDeviceForCover(name),
		},
		StateTopic:       bridge.StateTopic,
		CommandTopic:     bridge.CommandTopic,
		PositionTopic:    bridge.PositionTopic,
		SetPositionTopic: bridge.PositionChangeTopic,
		PositionOpen:     int(cover.FullOpenPosition),
		PositionClosed:   int(cover.FullClosedPosition),
		PayloadOpen:      mqttOpenCmd,
		PayloadStop:      mqttStopCmd,
		PayloadClose:     mqttCloseCmd,
	}
}

// NewHANumbersFromBridge describes the adjustable knobs of a cover: travel
// time, pulse gap and a position override that corrects the estimate without
// moving anything.
func NewHANumbersFromBridge(bridge *Bridge) []haNumber {
	name := bridge.cover.Name()
	device := haDeviceForCover(name)

	return []haNumber{
		{
			haEntity: haEntity{
				UniqueID:       fmt.Sprintf("%s_travel_time", name),
				Name:           "travel time",
				EntityCategory: "config",
				Device:         device,
			},
			StateTopic:   bridge.TravelTimeTopic,
			CommandTopic: bridge.TravelTimeChangeTopic,
			Min:          impulse.MinTravelTime.Seconds(),
			Max:          impulse.MaxTravelTime.Seconds(),
			Step:         1,
			Unit:         "s",
			Mode:         "box",
		},
		{
			haEntity: haEntity{
				UniqueID:       fmt.Sprintf("%s_pulse_gap", name),
				Name:           "pulse gap",
				EntityCategory: "config",
				Device:         device,
			},
			StateTopic:   bridge.PulseGapTopic,
			CommandTopic: bridge.PulseGapChangeTopic,
			Min:          impulse.MinPulseGap.Seconds(),
			Max:          impulse.MaxPulseGap.Seconds(),
			Step:         0.1,
			Unit:         "s",
			Mode:         "box",
		},
		{
			haEntity: haEntity{
				UniqueID:       fmt.Sprintf("%s_position_override", name),
				Name:           "position override",
				EntityCategory: "config",
				Device:         device,
			},
			StateTopic:   bridge.PositionTopic,
			CommandTopic: bridge.PositionOverrideTopic,
			Min:          cover.FullClosedPosition,
			Max:          cover.FullOpenPosition,
			Step:         1,
			Unit:         "%",
			Mode:         "box",
		},
	}
}

// NewHASelectsFromBridge describes the direction overrides. Forcing the
// current direction to idle freezes the cover without a pulse; forcing the
// last direction re-aligns the toggle bookkeeping with reality.
func NewHASelectsFromBridge(bridge *Bridge) []haSelect {
	name := bridge.cover.Name()
	device := haDeviceForCover(name)

	return []haSelect{
		{
			haEntity: haEntity{
				UniqueID:       fmt.Sprintf("%s_direction", name),
				Name:           "direction",
				EntityCategory: "diagnostic",
				Device:         device,
			},
			StateTopic:   bridge.DirectionTopic,
			CommandTopic: bridge.DirectionChangeTopic,
			Options:      []string{string(cover.Idle), string(cover.Opening), string(cover.Closing)},
		},
		{
			haEntity: haEntity{
				UniqueID:       fmt.Sprintf("%s_last_direction", name),
				Name:           "last direction",
				EntityCategory: "diagnostic",
				Device:         device,
			},
			StateTopic:   bridge.LastDirectionTopic,
			CommandTopic: bridge.LastDirectionChangeTopic,
			Options:      []string{string(cover.Opening), string(cover.Closing)},
		},
	}
}

// PublishHAAutoDiscovery announces the cover and its adjustment entities to
// Home Assistant under the configured discovery prefix.
func PublishHAAutoDiscovery(client paho.Client, discoveryTopicPrefix string, bridge *Bridge) error {
	haCover := NewHACoverFromBridge(bridge)
	topic := fmt.Sprintf("%s/cover/impulse2mqtt/%s/config", discoveryTopicPrefix, haCover.UniqueID)
	if err := publishHAConfig(client, topic, haCover); err != nil {
		return err
	}

	for _, number := range NewHANumbersFromBridge(bridge) {
		topic := fmt.Sprintf("%s/number/impulse2mqtt/%s/config", discoveryTopicPrefix, number.UniqueID)
		if err := publishHAConfig(client, topic, number); err != nil {
			return err
		}
	}

	for _, sel := range NewHASelectsFromBridge(bridge) {
		topic := fmt.Sprintf("%s/select/impulse2mqtt/%s/config", discoveryTopicPrefix, sel.UniqueID)
		if err := publishHAConfig(client, topic, sel); err != nil {
			return err
		}
	}

	return nil
}

func publishHAConfig(client paho.Client, topic string, config interface{}) error {
	payload, err := json.Marshal(config)
	if err != nil {
		return err
	}

	if token := client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "HA discovery publish on %s failed", topic)
	}

	return nil
}
