package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/paavoai/paavo/internal/buildinfo"
	"github.com/paavoai/paavo/internal/config"
)

// Sensor entity suffixes.
const (
	sensorUptime       = "uptime"
	sensorVersion      = "version"
	sensorLastTopic    = "last_topic"
	sensorLastAction   = "last_action"
	sensorLastTurn     = "last_turn"
	sensorTurnsTotal   = "turns_total"
	sensorOllamaStatus = "ollama_status"
)

// Publisher owns the broker connection and the state loop.
type Publisher struct {
	cfg         config.MQTTConfig
	instanceID  string
	device      DeviceInfo
	tracker     *Tracker
	ollamaReady func() bool
	logger      *slog.Logger
	cm          *autopaho.ConnectionManager
}

// New returns an unconnected Publisher. ollamaReady may be nil.
func New(cfg config.MQTTConfig, instanceID string, tracker *Tracker, ollamaReady func() bool, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:         cfg,
		instanceID:  instanceID,
		device:      NewDeviceInfo(instanceID, cfg.DeviceName),
		tracker:     tracker,
		ollamaReady: ollamaReady,
		logger:      logger.With("component", "mqtt"),
	}
}

// Start connects and publishes state until ctx is cancelled. A broker
// that is down at startup is retried in the background.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker url: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publish(ctx, cm, p.availabilityTopic(), "online", 1)
			p.publishStates(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("broker connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "paavo-" + p.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("initial broker connection timed out, retrying in background", "error", err)
	}

	ticker := time.NewTicker(p.cfg.PublishInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// Stop marks the device offline and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publish(ctx, p.cm, p.availabilityTopic(), "offline", 1)
	return p.cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return "paavo/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(entity string) string {
	return p.cfg.DiscoveryPrefix + "/sensor/" + p.cfg.DeviceName + "/" + entity + "/config"
}

func (p *Publisher) sensor(entity, label, icon string) SensorConfig {
	return SensorConfig{
		Name:              p.device.Name + " " + label,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

// sensors returns every discovery payload keyed by entity suffix.
func (p *Publisher) sensors() map[string]SensorConfig {
	uptime := p.sensor(sensorUptime, "Uptime", "mdi:clock-outline")
	uptime.EntityCategory = "diagnostic"
	version := p.sensor(sensorVersion, "Version", "mdi:tag")
	version.EntityCategory = "diagnostic"
	lastTurn := p.sensor(sensorLastTurn, "Last Turn", "mdi:clock-check")
	lastTurn.DeviceClass = "timestamp"
	turns := p.sensor(sensorTurnsTotal, "Turns", "mdi:counter")
	turns.StateClass = "total_increasing"
	ollama := p.sensor(sensorOllamaStatus, "Ollama", "mdi:brain")
	ollama.EntityCategory = "diagnostic"

	return map[string]SensorConfig{
		sensorUptime:       uptime,
		sensorVersion:      version,
		sensorLastTopic:    p.sensor(sensorLastTopic, "Last Topic", "mdi:tag-text"),
		sensorLastAction:   p.sensor(sensorLastAction, "Last Action", "mdi:play-pause"),
		sensorLastTurn:     lastTurn,
		sensorTurnsTotal:   turns,
		sensorOllamaStatus: ollama,
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for entity, cfg := range p.sensors() {
		payload, err := json.Marshal(cfg)
		if err != nil {
			p.logger.Error("marshal discovery payload", "entity", entity, "error", err)
			continue
		}
		p.publish(ctx, cm, p.discoveryTopic(entity), string(payload), 1)
	}
}

// states renders the current sensor values.
func (p *Publisher) states() map[string]string {
	var sum TurnSummary
	if p.tracker != nil {
		sum = p.tracker.Summary()
	}
	out := map[string]string{
		sensorUptime:     buildinfo.Uptime().Truncate(time.Second).String(),
		sensorVersion:    buildinfo.Version,
		sensorLastTopic:  orNone(sum.LastTopic),
		sensorLastAction: orNone(sum.LastAction),
		sensorLastTurn:   "unknown",
		sensorTurnsTotal: strconv.FormatInt(sum.Turns, 10),
	}
	if !sum.LastTurn.IsZero() {
		out[sensorLastTurn] = sum.LastTurn.UTC().Format(time.RFC3339)
	}
	if p.ollamaReady != nil {
		out[sensorOllamaStatus] = "down"
		if p.ollamaReady() {
			out[sensorOllamaStatus] = "up"
		}
	}
	return out
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.states()
	for entity, value := range states {
		p.publish(ctx, p.cm, p.stateTopic(entity), value, 0)
	}
	p.logger.Debug("sensor states published", "entities", len(states))
}

func (p *Publisher) publish(ctx context.Context, cm *autopaho.ConnectionManager, topic, payload string, qos byte) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: []byte(payload),
		QoS:     qos,
		Retain:  true,
	}); err != nil {
		p.logger.Debug("publish failed", "topic", topic, "error", err)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
