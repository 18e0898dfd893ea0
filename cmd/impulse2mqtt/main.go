package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/jkaflik/impulse2mqtt/internal/cover"
	"github.com/jkaflik/impulse2mqtt/internal/cover/driver/impulse"
	"github.com/jkaflik/impulse2mqtt/internal/metrics"
	"github.com/jkaflik/impulse2mqtt/internal/mqtt"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := configLoader.Load(); err != nil {
		logrus.Fatal(err)
	}
	loadConfigFromYamlFile(*configPath)

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	ctx, cancel := context.WithCancel(context.Background())
	registry := cover.NewRegistry()

	var bridges []*mqtt.Bridge
	opts := pahoOptsFromConfig()
	opts.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		subscribe(ctx, m, bridges)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)

	// bridges must be complete before the first OnConnect can observe them
	bridges = covers2mqttFromConfig(ctx, m, registry)

	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	if Cfg.Metrics.Enabled {
		serveMetrics(registry)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		oscall := <-c
		log.Printf("system call:%+v", oscall)
		cancel()
	}()

	<-ctx.Done()

	shutdownCovers(registry)

	cleanupTime := time.Second
	logrus.Infof("cleanups for %s...", cleanupTime.String())
	time.Sleep(cleanupTime)
	m.Disconnect(250)
}

func subscribe(ctx context.Context, m paho.Client, bridges []*mqtt.Bridge) {
	for _, sw := range mqttSwitches {
		if err := sw.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}

	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, bridge); err != nil {
				logrus.Fatal(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}
}

func serveMetrics(registry *cover.Registry) {
	promRegistry := metrics.NewRegistry(metricsCollectorsFromConfig(registry)...)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", metrics.HealthHandler)
	mux.Handle("/metrics", metrics.Handler(promRegistry))

	go func() {
		logrus.Infof("metrics listening on %s", Cfg.Metrics.Addr)
		if err := http.ListenAndServe(Cfg.Metrics.Addr, mux); err != nil {
			logrus.Errorf("metrics server: %s", err)
		}
	}()
}

// shutdownCovers freezes every estimate so the final retained publish
// reflects where the covers were left.
func shutdownCovers(registry *cover.Registry) {
	for _, c := range registry.All() {
		if ctrl, ok := c.(*impulse.Controller); ok {
			ctrl.Shutdown()
		}
	}
}
