// Package router turns the recent conversation into a decision: which
// topic the user is talking about and, for music, which action to take.
// Both steps ask the model for a two-line labelled answer and parse it
// strictly; every decision is kept in a bounded audit log.
package router

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/paavoai/paavo/internal/llm"
	"github.com/paavoai/paavo/internal/music"
	"github.com/paavoai/paavo/internal/prompts"
)

// Stage names the step a Decision belongs to.
type Stage string

const (
	StageTopic  Stage = "topic"
	StageAction Stage = "music_action"
)

// Decision is one audited classification or resolution.
type Decision struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	Value     string    `json:"value,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Raw       string    `json:"raw,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
}

// Stats aggregates decisions since start.
type Stats struct {
	TotalDecisions int              `json:"total_decisions"`
	Topics         map[string]int64 `json:"topics"`
	Actions        map[string]int64 `json:"actions"`
	Failures       map[string]int64 `json:"failures"`
}

// TemplateSource supplies the active prompt templates.
type TemplateSource interface {
	Current() *prompts.Set
}

// Config tunes the router.
type Config struct {
	MaxAuditLog int
}

// Router classifies and resolves using a Generator.
type Router struct {
	gen       llm.Generator
	templates TemplateSource
	logger    *slog.Logger
	config    Config

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewRouter returns a router that prompts gen with templates.
func NewRouter(gen llm.Generator, templates TemplateSource, logger *slog.Logger, config Config) *Router {
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		gen:       gen,
		templates: templates,
		logger:    logger.With("component", "router"),
		config:    config,
		auditLog:  make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			Topics:   make(map[string]int64),
			Actions:  make(map[string]int64),
			Failures: make(map[string]int64),
		},
	}
}

// Classify asks the model which topic the rendered history is about.
func (r *Router) Classify(ctx context.Context, history string) (Topic, error) {
	start := time.Now()
	prompt := prompts.Render(r.templates.Current().TopicClassify, history, "")

	raw, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		err = &ClassificationError{Kind: KindGatewayFailed, Err: err}
		r.record(ctx, StageTopic, start, "", Reply{}, "", err)
		return 0, err
	}

	topic, reply, err := ParseTopicReply(raw)
	if err != nil {
		r.logger.Warn("unusable topic reply", "raw", raw, "error", err)
		r.record(ctx, StageTopic, start, "", reply, raw, err)
		return 0, err
	}
	r.logger.Debug("topic classified", "topic", topic, "reasoning", reply.Reasoning)
	r.record(ctx, StageTopic, start, topic.String(), reply, raw, nil)
	return topic, nil
}

// ResolveMusicAction asks the model which music action fulfils the
// rendered history.
func (r *Router) ResolveMusicAction(ctx context.Context, history string) (music.Action, error) {
	start := time.Now()
	prompt := prompts.Render(r.templates.Current().MusicAction, history, "")

	raw, err := r.gen.Generate(ctx, prompt)
	if err != nil {
		err = &ResolutionError{Kind: KindGatewayFailed, Err: err}
		r.record(ctx, StageAction, start, "", Reply{}, "", err)
		return music.Action{}, err
	}

	action, reply, err := ParseActionReply(raw)
	if err != nil {
		r.logger.Warn("unusable action reply", "raw", raw, "error", err)
		r.record(ctx, StageAction, start, "", reply, raw, err)
		return music.Action{}, err
	}
	r.logger.Debug("music action resolved", "action", action, "reasoning", reply.Reasoning)
	r.record(ctx, StageAction, start, action.Verb.String(), reply, raw, nil)
	return action, nil
}

func (r *Router) record(ctx context.Context, stage Stage, start time.Time, value string, reply Reply, raw string, err error) {
	d := Decision{
		RequestID: RequestIDFromContext(ctx),
		Timestamp: start.UTC(),
		Stage:     stage,
		Value:     value,
		Reasoning: reply.Reasoning,
		Raw:       raw,
		LatencyMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		d.Error = err.Error()
		d.ErrorKind = Kind(err).String()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalDecisions++
	switch {
	case err != nil:
		r.stats.Failures[string(stage)+"/"+d.ErrorKind]++
	case stage == StageTopic:
		r.stats.Topics[value]++
	default:
		r.stats.Actions[value]++
	}
}

// AuditLog returns up to limit of the most recent decisions, oldest
// first. limit <= 0 returns all.
func (r *Router) AuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}
	out := make([]Decision, limit)
	copy(out, r.auditLog[len(r.auditLog)-limit:])
	return out
}

// Stats returns a copy of the counters.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Stats{
		TotalDecisions: r.stats.TotalDecisions,
		Topics:         copyCounts(r.stats.Topics),
		Actions:        copyCounts(r.stats.Actions),
		Failures:       copyCounts(r.stats.Failures),
	}
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
