package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/paavoai/paavo/internal/agent"
	"github.com/paavoai/paavo/internal/connwatch"
	"github.com/paavoai/paavo/internal/events"
	"github.com/paavoai/paavo/internal/journal"
	"github.com/paavoai/paavo/internal/memory"
	"github.com/paavoai/paavo/internal/music"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcessor struct {
	mu     sync.Mutex
	inputs []agent.Input
	speech string
	err    error
}

func (f *fakeProcessor) Process(_ context.Context, in agent.Input) (*agent.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, agent.ErrEmptyInput
	}
	return &agent.Result{
		Speech:         f.speech,
		ConversationID: in.ConversationID,
		Language:       in.Language,
		Topic:          "music",
		Action:         "pause",
		Outcome:        agent.OutcomeOK,
		RequestID:      "r_0000abcd",
	}, nil
}

func (f *fakeProcessor) last() agent.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inputs[len(f.inputs)-1]
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestProcess_PassesThrough(t *testing.T) {
	proc := &fakeProcessor{speech: "Musiikki tauotettu."}
	h := NewServer("", 0, proc, testLogger()).Handler()

	rec := post(t, h, "/v1/conversation/process", `{"text":"tauko","language":"fi","conversation_id":"conv-1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	res := decode[agent.Result](t, rec)
	if res.Speech != "Musiikki tauotettu." || res.ConversationID != "conv-1" || res.Language != "fi" {
		t.Errorf("result = %+v", res)
	}
	if in := proc.last(); in.Text != "tauko" || in.Language != "fi" || in.ConversationID != "conv-1" {
		t.Errorf("input = %+v", in)
	}
}

func TestProcess_GeneratesConversationID(t *testing.T) {
	proc := &fakeProcessor{speech: "ok"}
	h := NewServer("", 0, proc, testLogger()).Handler()

	rec := post(t, h, "/v1/conversation/process", `{"text":"hei"}`)
	res := decode[agent.Result](t, rec)
	if len(res.ConversationID) != 36 {
		t.Errorf("ConversationID = %q, want a UUID", res.ConversationID)
	}
}

func TestProcess_Errors(t *testing.T) {
	tests := []struct {
		name string
		proc *fakeProcessor
		body string
		want int
	}{
		{"bad json", &fakeProcessor{}, `{`, http.StatusBadRequest},
		{"empty text", &fakeProcessor{}, `{"text":"  "}`, http.StatusBadRequest},
		{"agent failure", &fakeProcessor{err: errors.New("boom")}, `{"text":"x"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewServer("", 0, tt.proc, testLogger()).Handler()
			rec := post(t, h, "/v1/conversation/process", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("body = %s", rec.Body)
			}
		})
	}
}

func TestSimpleChat(t *testing.T) {
	proc := &fakeProcessor{speech: "Hei!"}
	h := NewServer("", 0, proc, testLogger()).Handler()

	rec := post(t, h, "/v1/chat", `{"message":"moi","conversation_id":"c2"}`)
	resp := decode[SimpleChatResponse](t, rec)
	if resp.Response != "Hei!" || resp.ConversationID != "c2" {
		t.Errorf("response = %+v", resp)
	}
}

func TestAgentInfo(t *testing.T) {
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	s.SetLanguages([]string{"fi", "en"})

	info := decode[AgentInfo](t, get(t, s.Handler(), "/v1/agent"))
	if strings.Join(info.SupportedLanguages, ",") != "fi,en" {
		t.Errorf("languages = %v", info.SupportedLanguages)
	}
	if info.Attribution["name"] != "Powered by Ollama" {
		t.Errorf("attribution = %v", info.Attribution)
	}
}

func TestHistory(t *testing.T) {
	ring := memory.NewRing(4)
	ring.Append(memory.RoleUser, "soita jazzia")
	ring.Append(memory.RoleAssistant, "Jazz soi.")

	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	h := s.Handler()
	if rec := get(t, h, "/v1/history"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without ring: status = %d", rec.Code)
	}

	s.SetHistory(ring)
	body := decode[struct {
		Capacity int                `json:"capacity"`
		Entries  []memory.Utterance `json:"entries"`
	}](t, get(t, s.Handler(), "/v1/history"))
	if body.Capacity != 4 || len(body.Entries) != 2 || body.Entries[1].Content != "Jazz soi." {
		t.Errorf("history = %+v", body)
	}
}

type fakeJournal struct {
	turns []journal.Turn
	start time.Time
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Turn, error) {
	if limit < len(f.turns) {
		return f.turns[:limit], nil
	}
	return f.turns, nil
}

func (f *fakeJournal) Summary(_ context.Context, start, _ time.Time) ([]journal.OutcomeCount, error) {
	f.start = start
	return []journal.OutcomeCount{{Outcome: "ok", Turns: 3, AvgDurationMs: 1200}}, nil
}

func TestJournalEndpoints(t *testing.T) {
	j := &fakeJournal{turns: []journal.Turn{{ID: "a", Outcome: "ok"}, {ID: "b", Outcome: "degraded"}}}
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	s.SetJournal(j)
	h := s.Handler()

	recent := decode[struct {
		Turns []journal.Turn `json:"turns"`
	}](t, get(t, h, "/v1/journal?limit=1"))
	if len(recent.Turns) != 1 || recent.Turns[0].ID != "a" {
		t.Errorf("recent = %+v", recent)
	}

	before := time.Now()
	sum := decode[struct {
		Outcomes []journal.OutcomeCount `json:"outcomes"`
	}](t, get(t, h, "/v1/journal/summary?hours=2"))
	if len(sum.Outcomes) != 1 || sum.Outcomes[0].Turns != 3 {
		t.Errorf("summary = %+v", sum)
	}
	if d := before.Sub(j.start); d < 119*time.Minute || d > 121*time.Minute {
		t.Errorf("summary window start %v before now", d)
	}
}

type fakePlayer struct {
	info *music.MediaInfo
	err  error
}

func (f *fakePlayer) NowPlaying(context.Context) (*music.MediaInfo, error) { return f.info, f.err }
func (f *fakePlayer) EntityID() string                                     { return "media_player.test" }

func TestNowPlaying(t *testing.T) {
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	s.SetPlayer(&fakePlayer{info: &music.MediaInfo{State: "playing", Title: "Waterloo", Artist: "ABBA"}})

	body := decode[map[string]any](t, get(t, s.Handler(), "/v1/music/now-playing"))
	if body["summary"] != "Now playing: Waterloo by ABBA on media_player.test" {
		t.Errorf("body = %v", body)
	}

	s.SetPlayer(&fakePlayer{err: errors.New("unreachable")})
	if rec := get(t, s.Handler(), "/v1/music/now-playing"); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d", rec.Code)
	}
}

type fakeHealth []connwatch.Status

func (f fakeHealth) Status() []connwatch.Status { return f }

func TestHealth(t *testing.T) {
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	if got := decode[HealthResponse](t, get(t, s.Handler(), "/health")); got.Status != "healthy" {
		t.Errorf("status = %q", got.Status)
	}

	s.SetHealth(fakeHealth{{Name: "ollama", Ready: true}, {Name: "homeassistant", Ready: false}})
	got := decode[HealthResponse](t, get(t, s.Handler(), "/health"))
	if got.Status != "degraded" || len(got.Services) != 2 {
		t.Errorf("health = %+v", got)
	}
}

func TestRootAndVersion(t *testing.T) {
	h := NewServer("", 0, &fakeProcessor{}, testLogger()).Handler()
	if body := decode[map[string]string](t, get(t, h, "/")); body["name"] != "Paavo" {
		t.Errorf("root = %v", body)
	}
	if body := decode[map[string]string](t, get(t, h, "/v1/version")); body["version"] == "" {
		t.Errorf("version = %v", body)
	}
	if rec := get(t, h, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	s.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "paavo_turns_total 1\n")
	}))
	if rec := get(t, s.Handler(), "/metrics"); !strings.Contains(rec.Body.String(), "paavo_turns_total") {
		t.Errorf("metrics body = %q", rec.Body)
	}
}

func TestEventsWebSocket(t *testing.T) {
	bus := events.New()
	s := NewServer("", 0, &fakeProcessor{}, testLogger())
	s.SetEventBus(bus)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription is registered after the upgrade completes.
	deadline := time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Emit(events.SourceAgent, events.KindTopicClassified, map[string]any{"topic": "music"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e events.Event
	if err := conn.ReadJSON(&e); err != nil {
		t.Fatalf("read: %v", err)
	}
	if e.Kind != events.KindTopicClassified || e.Data["topic"] != "music" {
		t.Errorf("event = %+v", e)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for bus.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("subscribers after close = %d", n)
	}
}
