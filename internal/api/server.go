// Package api serves Paavo over HTTP: the native JSON API used by Home
// Assistant and tooling, and an Ollama-compatible API (see OllamaServer)
// so Home Assistant's stock Ollama integration can talk to Paavo as if it
// were a model.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/paavoai/paavo/internal/agent"
	"github.com/paavoai/paavo/internal/buildinfo"
	"github.com/paavoai/paavo/internal/connwatch"
	"github.com/paavoai/paavo/internal/events"
	"github.com/paavoai/paavo/internal/journal"
	"github.com/paavoai/paavo/internal/memory"
	"github.com/paavoai/paavo/internal/music"
	"github.com/paavoai/paavo/internal/router"
)

// Processor runs one conversation turn. *agent.Agent satisfies it.
type Processor interface {
	Process(ctx context.Context, in agent.Input) (*agent.Result, error)
}

// JournalReader is the read side of the turn journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Turn, error)
	Summary(ctx context.Context, start, end time.Time) ([]journal.OutcomeCount, error)
}

// NowPlayingSource reports the media player state.
type NowPlayingSource interface {
	NowPlaying(ctx context.Context) (*music.MediaInfo, error)
	EntityID() string
}

// HealthSource reports upstream reachability. *connwatch.Manager
// satisfies it.
type HealthSource interface {
	Status() []connwatch.Status
}

// writeJSON encodes v to w. Encode errors mean the client went away and
// are only logged at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the native HTTP API.
type Server struct {
	address   string
	port      int
	agent     Processor
	history   *memory.Ring
	router    *router.Router
	journal   JournalReader
	player    NowPlayingSource
	health    HealthSource
	bus       *events.Bus
	metrics   http.Handler
	languages []string
	logger    *slog.Logger
	server    *http.Server
}

// NewServer returns a server for proc. Optional collaborators are added
// with the Set methods; their endpoints answer 503 until set.
func NewServer(address string, port int, proc Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:   address,
		port:      port,
		agent:     proc,
		languages: []string{"fi"},
		logger:    logger.With("component", "api"),
	}
}

// SetHistory exposes the conversation ring on /v1/history.
func (s *Server) SetHistory(r *memory.Ring) { s.history = r }

// SetRouter exposes router stats and audit.
func (s *Server) SetRouter(r *router.Router) { s.router = r }

// SetJournal exposes the turn journal.
func (s *Server) SetJournal(j JournalReader) { s.journal = j }

// SetPlayer exposes the now-playing view.
func (s *Server) SetPlayer(p NowPlayingSource) { s.player = p }

// SetHealth reports upstream status on /health.
func (s *Server) SetHealth(h HealthSource) { s.health = h }

// SetEventBus streams events on /v1/events.
func (s *Server) SetEventBus(b *events.Bus) { s.bus = b }

// SetMetricsHandler serves h on /metrics.
func (s *Server) SetMetricsHandler(h http.Handler) { s.metrics = h }

// SetLanguages sets the languages advertised on /v1/agent.
func (s *Server) SetLanguages(langs []string) {
	if len(langs) > 0 {
		s.languages = langs
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/conversation/process", s.handleProcess)
	mux.HandleFunc("POST /v1/chat", s.handleSimpleChat)
	mux.HandleFunc("GET /v1/agent", s.handleAgentInfo)

	mux.HandleFunc("GET /v1/history", s.handleHistory)
	mux.HandleFunc("GET /v1/router/stats", s.handleRouterStats)
	mux.HandleFunc("GET /v1/router/audit", s.handleRouterAudit)
	mux.HandleFunc("GET /v1/journal", s.handleJournal)
	mux.HandleFunc("GET /v1/journal/summary", s.handleJournalSummary)
	mux.HandleFunc("GET /v1/music/now-playing", s.handleNowPlaying)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.withLogging(mux)
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		s.logger.Debug("failed to write error response", "error", err)
	}
}

// ProcessRequest is one turn from the host dialogue framework.
type ProcessRequest struct {
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// handleProcess runs a turn. The body of the reply is agent.Result.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	res, err := s.agent.Process(r.Context(), agent.Input{
		Text:           req.Text,
		Language:       req.Language,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		s.processError(w, err)
		return
	}
	writeJSON(w, res, s.logger)
}

// SimpleChatRequest is a minimal chat request for manual testing.
type SimpleChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SimpleChatResponse is the reply to SimpleChatRequest.
type SimpleChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// handleSimpleChat provides a simplified chat interface.
// POST /v1/chat {"message": "soita jazzia"}
func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	var req SimpleChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = uuid.NewString()
	}

	res, err := s.agent.Process(r.Context(), agent.Input{Text: req.Message, ConversationID: convID})
	if err != nil {
		s.processError(w, err)
		return
	}
	writeJSON(w, SimpleChatResponse{Response: res.Speech, ConversationID: convID}, s.logger)
}

func (s *Server) processError(w http.ResponseWriter, err error) {
	if errors.Is(err, agent.ErrEmptyInput) {
		s.errorResponse(w, http.StatusBadRequest, "text is required")
		return
	}
	s.logger.Error("turn failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "agent error")
}

// AgentInfo describes the agent to the host.
type AgentInfo struct {
	SupportedLanguages []string          `json:"supported_languages"`
	Attribution        map[string]string `json:"attribution"`
}

func (s *Server) handleAgentInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, AgentInfo{
		SupportedLanguages: s.languages,
		Attribution:        map[string]string{"name": "Powered by Ollama"},
	}, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "history not available")
		return
	}
	writeJSON(w, map[string]any{
		"capacity": s.history.Cap(),
		"entries":  s.history.Snapshot(),
	}, s.logger)
}

func (s *Server) handleRouterStats(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	writeJSON(w, s.router.Stats(), s.logger)
}

func (s *Server) handleRouterAudit(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "router not configured")
		return
	}
	limit := parseIntParam(r, "limit", 20)
	writeJSON(w, s.router.AuditLog(limit), s.logger)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}
	turns, err := s.journal.Recent(r.Context(), parseIntParam(r, "limit", 50))
	if err != nil {
		s.logger.Error("journal query failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, map[string]any{"turns": turns}, s.logger)
}

func (s *Server) handleJournalSummary(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "journal not enabled")
		return
	}
	hours := parseIntParam(r, "hours", 24)
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	counts, err := s.journal.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("journal summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	writeJSON(w, map[string]any{
		"start":    start.UTC().Format(time.RFC3339),
		"end":      end.UTC().Format(time.RFC3339),
		"outcomes": counts,
	}, s.logger)
}

func (s *Server) handleNowPlaying(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "player not configured")
		return
	}
	info, err := s.player.NowPlaying(r.Context())
	if err != nil {
		s.logger.Warn("now playing lookup failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"entity_id": s.player.EntityID(),
		"media":     info,
		"summary":   info.Describe(s.player.EntityID()),
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{
		"name":    "Paavo",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.Info(), s.logger)
}

// HealthResponse is the /health body. Status is "degraded" when any
// watched upstream is unreachable.
type HealthResponse struct {
	Status   string             `json:"status"`
	Uptime   string             `json:"uptime"`
	Services []connwatch.Status `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: buildinfo.Uptime().Truncate(time.Second).String(),
	}
	if s.health != nil {
		resp.Services = s.health.Status()
		for _, st := range resp.Services {
			if !st.Ready {
				resp.Status = "degraded"
			}
		}
	}
	writeJSON(w, resp, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
