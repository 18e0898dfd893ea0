package main

import (
	"context"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/racerxdl/go-mcp23017"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/jkaflik/impulse2mqtt/internal/cover/driver/impulse"
	"github.com/jkaflik/impulse2mqtt/internal/metrics"
	"github.com/jkaflik/impulse2mqtt/internal/mqtt"
)

type cfgPin struct {
	Kind string `yaml:"kind"`

	// gpio
	Chip string `yaml:"chip" default:"gpiochip0"`
	Line int    `yaml:"line"`

	// mcp23017
	Pin      uint8 `yaml:"pin"`
	Mcp23017 int   `yaml:"mcp23017"`
}

type cfgSense struct {
	Chip     string  `yaml:"chip" default:"gpiochip0"`
	Line     int     `yaml:"line"`
	Debounce float64 `yaml:"debounce" default:"0.05"` // seconds
}

type cfgSwitch struct {
	Kind string `yaml:"kind"`

	// mqtt
	CommandTopic   string `yaml:"command_topic"`
	CommandPayload string `yaml:"command_payload" default:"ON"`
	StateTopic     string `yaml:"state_topic"`
	ActivePayload  string `yaml:"active_payload" default:"ON"`

	// wired
	Pin           cfgPin    `yaml:"pin"`
	NormalClosed  bool      `yaml:"normal_closed"`
	PressDuration float64   `yaml:"press_duration" default:"0.2"` // seconds
	Sense         *cfgSense `yaml:"sense"`
}

type cfgCover struct {
	Name string `yaml:"name"`

	Switch cfgSwitch `yaml:"switch"`

	TravelTime      int     `yaml:"travel_time" default:"30"` // seconds
	PulseGap        float64 `yaml:"pulse_gap" default:"0.8"`  // seconds
	InitialPosition float64 `yaml:"initial_position" default:"0"`
}

type cfgDrivers struct {
	Wired struct {
		Pool     int `yaml:"pool" default:"0"`
		Mcp23017 map[int]struct {
			Bus          uint8 `yaml:"bus" default:"1"`
			DeviceNumber uint8 `yaml:"device_number" default:"0"`
		} `yaml:"mcp23017"`
	} `yaml:"wired"`
}

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"impulse2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgMetrics struct {
	Enabled bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	Addr    string `yaml:"addr" default:":9641" env:"ADDR"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT    cfgMQTT    `yaml:"mqtt" env:"MQTT"`
	HASS    cfgHASS    `yaml:"hass" env:"HASS"`
	Metrics cfgMetrics `yaml:"metrics" env:"METRICS"`

	Covers []cfgCover `yaml:"covers"`

	Drivers cfgDrivers `yaml:"drivers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "I2M",
	SkipFlags: true,
})

var (
	wiredPool        chan struct{}
	mqttSwitches     []*impulse.MQTT
	switchCollectors []prometheus.Collector
	mcpDevices       = map[int]*mcp23017.Device{}
)

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
		return
	}

	if Cfg.Drivers.Wired.Pool > 0 {
		wiredPool = make(chan struct{}, Cfg.Drivers.Wired.Pool)
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(Cfg.MQTT.ClientID).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func covers2mqttFromConfig(ctx context.Context, client paho.Client, registry *cover.Registry) (bridges []*mqtt.Bridge) {
	for _, cfg := range Cfg.Covers {
		c := coverFromConfig(ctx, client, cfg)
		if err := registry.Add(c); err != nil {
			logrus.Fatal(err)
		}
		bridges = append(bridges, mqtt.NewBridge(client, c))
	}

	return bridges
}

func coverFromConfig(ctx context.Context, client paho.Client, cfg cfgCover) cover.Cover {
	sw := switchFromConfig(ctx, client, cfg)

	if Cfg.Metrics.Enabled {
		counting := metrics.NewCountingSwitch(sw, cfg.Name)
		switchCollectors = append(switchCollectors, counting.Collectors()...)
		sw = counting
	}

	return impulse.NewController(cfg.Name, sw, impulse.Config{
		TravelTime:      time.Duration(cfg.TravelTime) * time.Second,
		PulseGap:        time.Duration(cfg.PulseGap * float64(time.Second)),
		InitialPosition: cfg.InitialPosition,
	})
}

func metricsCollectorsFromConfig(registry *cover.Registry) []prometheus.Collector {
	return append([]prometheus.Collector{metrics.NewCollector(registry)}, switchCollectors...)
}

func switchFromConfig(ctx context.Context, client paho.Client, cfg cfgCover) impulse.Switch {
	switch cfg.Switch.Kind {
	case "mqtt":
		sw := impulse.NewMQTT(client, cfg.Name, cfg.Switch.CommandTopic, cfg.Switch.StateTopic)
		if cfg.Switch.CommandPayload != "" {
			sw.CommandPayload = cfg.Switch.CommandPayload
		}
		if cfg.Switch.ActivePayload != "" {
			sw.ActivePayload = cfg.Switch.ActivePayload
		}
		mqttSwitches = append(mqttSwitches, sw)
		return sw
	case "wired":
		return wiredFromConfig(ctx, cfg.Name, cfg.Switch)
	case "dumb":
		return &impulse.Dumb{Name: cfg.Name, Echo: true}
	}

	logrus.Fatalf("%s is not supported switch kind", cfg.Switch.Kind)
	return nil
}

func wiredFromConfig(ctx context.Context, name string, cfg cfgSwitch) impulse.Switch {
	wired := impulse.NewWired(name, pinFromConfig(ctx, cfg.Pin, cfg.NormalClosed))
	wired.NormalClosed = cfg.NormalClosed
	if cfg.PressDuration > 0 {
		wired.PressDuration = time.Duration(cfg.PressDuration * float64(time.Second))
	}

	if cfg.Sense != nil {
		chip := cfg.Sense.Chip
		if chip == "" {
			chip = "gpiochip0"
		}
		debounce := time.Duration(cfg.Sense.Debounce * float64(time.Second))
		if err := wired.WatchSense(ctx, chip, cfg.Sense.Line, debounce); err != nil {
			logrus.Fatal(err)
		}
	}

	if wiredPool == nil {
		return wired
	}

	return impulse.NewPoolSwitch(wired, wiredPool)
}

func pinFromConfig(ctx context.Context, cfg cfgPin, normalClosed bool) impulse.SetPin {
	switch cfg.Kind {
	case "gpio":
		chip := cfg.Chip
		if chip == "" {
			chip = "gpiochip0"
		}
		released := 1
		if normalClosed {
			released = 0
		}
		pin, err := impulse.NewGPIOPin(chip, cfg.Line, released)
		if err != nil {
			logrus.Fatal(err)
		}
		go func() {
			<-ctx.Done()
			if err := pin.Close(); err != nil {
				logrus.Errorf("gpio: close failed: %s", err)
			}
		}()
		return pin
	case "mcp23017":
		device := mcp23017DeviceFromConfigByID(ctx, cfg.Mcp23017)
		p, err := impulse.NewMcp23017Pin(device, cfg.Pin)
		if err != nil {
			logrus.Fatal(err)
		}
		return p
	}

	logrus.Fatalf("%s is not supported pin kind", cfg.Kind)
	return nil
}

func mcp23017DeviceFromConfigByID(ctx context.Context, id int) *mcp23017.Device {
	if Cfg.Drivers.Wired.Mcp23017 == nil {
		logrus.Fatal("drivers.wired.mcp23017 not defined")
	}

	cfg, found := Cfg.Drivers.Wired.Mcp23017[id]
	if !found {
		logrus.Fatalf("%d is not valid defined drivers.wired.mcp23017", id)
		return nil
	}

	dev := mcpDevices[id]
	if dev == nil {
		var err error
		dev, err = mcp23017.Open(cfg.Bus, cfg.DeviceNumber)
		if err != nil {
			logrus.Fatal(err)
		}
		go func() {
			<-ctx.Done()
			if err := dev.Close(); err != nil {
				logrus.Errorf("mcp23017: close failed %s", err)
				return
			}

			logrus.Infof("mcp23017: close")
		}()
		if err := dev.Reset(); err != nil {
			logrus.Fatal(err)
		}

		mcpDevices[id] = dev
	}

	return dev
}
