package mqtt

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paavoai/paavo/internal/config"
	"github.com/paavoai/paavo/internal/events"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:             "mqtt://localhost:1883",
		DeviceName:         "paavo",
		DiscoveryPrefix:    "homeassistant",
		PublishIntervalSec: 60,
	}
}

func TestLoadOrCreateInstanceID(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatalf("LoadOrCreateInstanceID() error = %v", err)
	}
	if len(strings.Split(first, "-")) != 5 {
		t.Errorf("id %q is not a UUID", first)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instance_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if strings.TrimSpace(string(data)) != first {
		t.Errorf("file content = %q, want %q", data, first)
	}

	second, err := LoadOrCreateInstanceID(dir)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Errorf("second = %q, want stable %q", second, first)
	}
}

func TestSensors_Discovery(t *testing.T) {
	p := New(testConfig(), "inst-1", &Tracker{}, nil, nil)
	sensors := p.sensors()

	want := []string{
		sensorUptime, sensorVersion, sensorLastTopic, sensorLastAction,
		sensorLastTurn, sensorTurnsTotal, sensorOllamaStatus,
	}
	if len(sensors) != len(want) {
		t.Fatalf("got %d sensors, want %d", len(sensors), len(want))
	}
	for _, entity := range want {
		s, ok := sensors[entity]
		if !ok {
			t.Errorf("missing sensor %s", entity)
			continue
		}
		if s.UniqueID != "inst-1_"+entity {
			t.Errorf("%s UniqueID = %q", entity, s.UniqueID)
		}
		if s.StateTopic != "paavo/paavo/"+entity+"/state" {
			t.Errorf("%s StateTopic = %q", entity, s.StateTopic)
		}
		if s.AvailabilityTopic != "paavo/paavo/availability" {
			t.Errorf("%s AvailabilityTopic = %q", entity, s.AvailabilityTopic)
		}
		if s.Device.Identifiers[0] != "inst-1" {
			t.Errorf("%s device = %+v", entity, s.Device)
		}
	}

	if got := p.discoveryTopic(sensorUptime); got != "homeassistant/sensor/paavo/uptime/config" {
		t.Errorf("discoveryTopic = %q", got)
	}

	b, err := json.Marshal(sensors[sensorLastTurn])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"device_class":"timestamp"`) {
		t.Errorf("last_turn payload = %s", b)
	}
}

func TestStates(t *testing.T) {
	tracker := &Tracker{}
	ready := false
	p := New(testConfig(), "inst-1", tracker, func() bool { return ready }, nil)

	s := p.states()
	if s[sensorLastTopic] != "none" || s[sensorLastTurn] != "unknown" || s[sensorTurnsTotal] != "0" {
		t.Errorf("initial states = %v", s)
	}
	if s[sensorOllamaStatus] != "down" {
		t.Errorf("ollama_status = %q", s[sensorOllamaStatus])
	}

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tracker.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTurnStart})
	tracker.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTopicClassified, Data: map[string]any{"topic": "music"}})
	tracker.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindActionResolved, Data: map[string]any{"action": "pause"}})
	tracker.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTurnComplete, Timestamp: ts})
	ready = true

	s = p.states()
	if s[sensorLastTopic] != "music" || s[sensorLastAction] != "pause" || s[sensorTurnsTotal] != "1" {
		t.Errorf("states = %v", s)
	}
	if s[sensorLastTurn] != "2025-06-01T12:00:00Z" {
		t.Errorf("last_turn = %q", s[sensorLastTurn])
	}
	if s[sensorOllamaStatus] != "up" {
		t.Errorf("ollama_status = %q", s[sensorOllamaStatus])
	}
}

func TestTracker_ResetsPerTurn(t *testing.T) {
	tr := &Tracker{}
	tr.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTopicClassified, Data: map[string]any{"topic": "music"}})
	tr.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindActionResolved, Data: map[string]any{"action": "next"}})
	tr.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTurnStart})
	tr.Observe(events.Event{Source: events.SourceAgent, Kind: events.KindTopicClassified, Data: map[string]any{"topic": "lights"}})
	tr.Observe(events.Event{Source: events.SourcePrompts, Kind: events.KindTurnComplete})

	sum := tr.Summary()
	if sum.LastTopic != "lights" || sum.LastAction != "" || sum.Turns != 0 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	info := NewDeviceInfo("id-1", "kitchen")
	if info.Name != "kitchen" || info.Identifiers[0] != "id-1" || info.Manufacturer != "Paavo" {
		t.Errorf("device = %+v", info)
	}
}
