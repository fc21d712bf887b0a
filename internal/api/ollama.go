package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/paavoai/paavo/internal/agent"
	"github.com/paavoai/paavo/internal/buildinfo"
)

// ModelName is the model Paavo advertises on the Ollama-compatible API.
const ModelName = "paavo:latest"

// OllamaChatRequest is the /api/chat request.
type OllamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []OllamaChatMessage `json:"messages"`
	Stream   *bool               `json:"stream,omitempty"`
	Tools    []map[string]any    `json:"tools,omitempty"`
}

// OllamaChatMessage is one chat message.
type OllamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OllamaChatResponse is one /api/chat response or stream chunk.
type OllamaChatResponse struct {
	Model         string            `json:"model"`
	CreatedAt     string            `json:"created_at"`
	Message       OllamaChatMessage `json:"message"`
	Done          bool              `json:"done"`
	DoneReason    string            `json:"done_reason,omitempty"`
	TotalDuration int64             `json:"total_duration,omitempty"`
}

// OllamaGenerateRequest is the /api/generate request.
type OllamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream *bool  `json:"stream,omitempty"`
}

// OllamaGenerateResponse is one /api/generate response or stream chunk.
type OllamaGenerateResponse struct {
	Model         string `json:"model"`
	CreatedAt     string `json:"created_at"`
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	DoneReason    string `json:"done_reason,omitempty"`
	TotalDuration int64  `json:"total_duration,omitempty"`
}

// OllamaModel is one /api/tags entry.
type OllamaModel struct {
	Name       string            `json:"name"`
	Model      string            `json:"model"`
	ModifiedAt string            `json:"modified_at"`
	Size       int64             `json:"size"`
	Digest     string            `json:"digest"`
	Details    OllamaModelDetail `json:"details"`
}

// OllamaModelDetail is the details block of an OllamaModel.
type OllamaModelDetail struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// OllamaServer speaks enough of the Ollama API for Home Assistant's
// Ollama integration. Every chat or generate call is one Paavo turn.
type OllamaServer struct {
	address  string
	port     int
	agent    Processor
	language string
	logger   *slog.Logger
	server   *http.Server
}

// NewOllamaServer returns an unstarted server. language is attached to
// every turn since the Ollama protocol carries none.
func NewOllamaServer(address string, port int, proc Processor, language string, logger *slog.Logger) *OllamaServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaServer{
		address:  address,
		port:     port,
		agent:    proc,
		language: language,
		logger:   logger.With("component", "ollama_api"),
	}
}

// Handler returns the routed handler.
func (s *OllamaServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("GET /api/tags", s.handleTags)
	mux.HandleFunc("GET /api/version", s.handleVersion)
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("Ollama is running"))
	})
	return mux
}

// Start serves until Shutdown.
func (s *OllamaServer) Start(ctx context.Context) error {
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
	s.logger.Info("starting Ollama-compatible API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *OllamaServer) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// lastUserMessage returns the content of the final user message. Home
// Assistant resends the whole chat each turn; Paavo keeps its own history.
func lastUserMessage(msgs []OllamaChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	return ""
}

// wantsStream applies Ollama's default of streaming when unset.
func wantsStream(p *bool) bool {
	return p == nil || *p
}

func (s *OllamaServer) handleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req OllamaChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ollamaError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Tools) > 0 {
		s.logger.Debug("ignoring offered tools", "count", len(req.Tools))
	}
	s.logger.Info("chat request",
		"remote_addr", r.RemoteAddr,
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", wantsStream(req.Stream),
	)

	res, ok := s.process(w, r, lastUserMessage(req.Messages))
	if !ok {
		return
	}

	chunk := OllamaChatResponse{
		Model:     ModelName,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Message:   OllamaChatMessage{Role: "assistant", Content: res.Speech},
	}
	done := chunk
	done.Message.Content = ""
	done.Done = true
	done.DoneReason = "stop"
	done.TotalDuration = time.Since(start).Nanoseconds()

	if wantsStream(req.Stream) {
		s.writeNDJSON(w, chunk, done)
		return
	}
	chunk.Done = true
	chunk.DoneReason = "stop"
	chunk.TotalDuration = done.TotalDuration
	writeJSON(w, chunk, s.logger)
}

func (s *OllamaServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req OllamaGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ollamaError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Info("generate request", "remote_addr", r.RemoteAddr, "model", req.Model)

	res, ok := s.process(w, r, req.Prompt)
	if !ok {
		return
	}

	chunk := OllamaGenerateResponse{
		Model:     ModelName,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Response:  res.Speech,
	}
	done := chunk
	done.Response = ""
	done.Done = true
	done.DoneReason = "stop"
	done.TotalDuration = time.Since(start).Nanoseconds()

	if wantsStream(req.Stream) {
		s.writeNDJSON(w, chunk, done)
		return
	}
	chunk.Done = true
	chunk.DoneReason = "stop"
	chunk.TotalDuration = done.TotalDuration
	writeJSON(w, chunk, s.logger)
}

func (s *OllamaServer) process(w http.ResponseWriter, r *http.Request, text string) (*agent.Result, bool) {
	res, err := s.agent.Process(r.Context(), agent.Input{Text: text, Language: s.language})
	if err != nil {
		if errors.Is(err, agent.ErrEmptyInput) {
			ollamaError(w, http.StatusBadRequest, "no user message")
			return nil, false
		}
		s.logger.Error("turn failed", "error", err)
		ollamaError(w, http.StatusInternalServerError, "agent error")
		return nil, false
	}
	return res, true
}

// writeNDJSON writes each chunk as one JSON line, flushing after each.
func (s *OllamaServer) writeNDJSON(w http.ResponseWriter, chunks ...any) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			s.logger.Debug("failed to write stream chunk", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *OllamaServer) handleTags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]OllamaModel{
		"models": {{
			Name:       ModelName,
			Model:      ModelName,
			ModifiedAt: buildinfo.StartedAt().UTC().Format(time.RFC3339),
			Digest:     "paavo-" + buildinfo.Version,
			Details: OllamaModelDetail{
				Format:            "paavo",
				Family:            "paavo",
				Families:          []string{"paavo"},
				ParameterSize:     "agent",
				QuantizationLevel: "none",
			},
		}},
	}, s.logger)
}

func (s *OllamaServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": buildinfo.Version}, s.logger)
}

func ollamaError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
