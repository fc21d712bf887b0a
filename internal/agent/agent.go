// Package agent runs one conversation turn end to end: it records the
// user's words, asks the router what they are about, drives the media
// player when the answer is music, and turns the outcome into the reply
// that is spoken back.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paavoai/paavo/internal/events"
	"github.com/paavoai/paavo/internal/journal"
	"github.com/paavoai/paavo/internal/llm"
	"github.com/paavoai/paavo/internal/memory"
	"github.com/paavoai/paavo/internal/metrics"
	"github.com/paavoai/paavo/internal/music"
	"github.com/paavoai/paavo/internal/prompts"
	"github.com/paavoai/paavo/internal/router"
	"github.com/paavoai/paavo/internal/speech"
	"github.com/paavoai/paavo/internal/workpool"
)

// Canned replies used when the model cannot be asked to word one.
const (
	ReplyServerBroken    = "AI server is broken, please try again later."
	ReplyRephraseBroken  = "The request might have been completed but AI server is now broken"
	placeholderAction    = "NONE"
	errMsgTopic          = "Error while getting topic for the user comment"
	errMsgMusicAction    = "Error while processing music action"
	defaultClassifyTurns = 4
	defaultReplyTurns    = 8
)

// Outcome labels how a turn ended. Recorded in metrics and the journal.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomePlaceholder    Outcome = "placeholder"
	OutcomeMessage        Outcome = "message"
	OutcomeClassifyFailed Outcome = "classify_failed"
	OutcomeResolveFailed  Outcome = "resolve_failed"
	OutcomeDeviceFailed   Outcome = "device_failed"
	OutcomeDegraded       Outcome = "degraded"
)

// ErrEmptyInput is returned by Process for blank text.
var ErrEmptyInput = errors.New("empty input text")

// Input is one user turn as received from the host.
type Input struct {
	Text           string `json:"text"`
	Language       string `json:"language,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Result is the reply to one turn. Language and ConversationID are the
// caller's, unchanged.
type Result struct {
	Speech         string  `json:"speech"`
	ConversationID string  `json:"conversation_id,omitempty"`
	Language       string  `json:"language,omitempty"`
	Topic          string  `json:"topic,omitempty"`
	Action         string  `json:"action,omitempty"`
	Outcome        Outcome `json:"outcome"`
	RequestID      string  `json:"request_id"`
}

// TurnRecorder persists finished turns. *journal.Store satisfies it.
type TurnRecorder interface {
	Record(ctx context.Context, t journal.Turn) error
}

// Config holds the turn tuning knobs.
type Config struct {
	HistorySize       int
	ClassifyTurns     int // history entries shown to classify and resolve prompts
	ReplyTurns        int // history entries shown to the rephrase prompt
	EntityID          string
	DefaultPlaylistID string
	MaxAuditLog       int
	StripMarkdown     bool
}

// Deps are the collaborators an Agent talks to. Generator and Controller
// are required; the rest may be nil.
type Deps struct {
	Generator  llm.Generator
	Controller music.Controller
	Prompts    router.TemplateSource
	Pool       *workpool.Pool
	Bus        *events.Bus
	Journal    TurnRecorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Agent is the dialogue orchestrator.
type Agent struct {
	cfg       Config
	gen       llm.Generator
	templates router.TemplateSource
	ring      *memory.Ring
	router    *router.Router
	player    *music.Player
	bus       *events.Bus
	journal   TurnRecorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// turnMu serializes turns; the ring is shared by every caller.
	turnMu sync.Mutex
}

// New wires an Agent. Blocking calls made through Generator and
// Controller are submitted to deps.Pool when one is given.
func New(cfg Config, deps Deps) *Agent {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 10
	}
	if cfg.ClassifyTurns <= 0 {
		cfg.ClassifyTurns = defaultClassifyTurns
	}
	if cfg.ReplyTurns <= 0 {
		cfg.ReplyTurns = defaultReplyTurns
	}
	pool := deps.Pool
	if pool == nil {
		pool = workpool.New(1)
	}
	templates := deps.Prompts
	if templates == nil {
		templates = prompts.NewStaticStore(prompts.Defaults())
	}

	gen := &pooledGenerator{next: deps.Generator, pool: pool, metrics: deps.Metrics}
	ctrl := &pooledController{next: deps.Controller, pool: pool, metrics: deps.Metrics}

	return &Agent{
		cfg:       cfg,
		gen:       gen,
		templates: templates,
		ring:      memory.NewRing(cfg.HistorySize),
		router:    router.NewRouter(gen, templates, logger, router.Config{MaxAuditLog: cfg.MaxAuditLog}),
		player:    music.NewPlayer(ctrl, cfg.EntityID, cfg.DefaultPlaylistID, logger),
		bus:       deps.Bus,
		journal:   deps.Journal,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "agent"),
	}
}

// History returns the shared conversation ring.
func (a *Agent) History() *memory.Ring { return a.ring }

// Router returns the router, for its audit log and stats.
func (a *Agent) Router() *router.Router { return a.router }

// Player returns the media player the agent drives.
func (a *Agent) Player() *music.Player { return a.player }

// turn carries per-turn state through the branches of Process.
type turn struct {
	res    *Result
	logger *slog.Logger
	err    error
}

// Process handles one user turn and always produces a reply; every
// failure after input validation is turned into spoken text. Exactly one
// user and one assistant utterance are added to the history.
func (a *Agent) Process(ctx context.Context, in Input) (*Result, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}

	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	start := time.Now()
	requestID := generateRequestID()
	ctx = router.WithRequestID(ctx, requestID)

	t := &turn{
		res: &Result{
			ConversationID: in.ConversationID,
			Language:       in.Language,
			RequestID:      requestID,
		},
		logger: a.logger.With("request_id", requestID),
	}
	t.logger.Info("turn started", "conversation_id", in.ConversationID, "language", in.Language, "text", text)
	a.bus.Emit(events.SourceAgent, events.KindTurnStart, map[string]any{
		"request_id":      requestID,
		"conversation_id": in.ConversationID,
		"language":        in.Language,
		"text":            text,
	})

	a.ring.Append(memory.RoleUser, text)
	t.res.Speech = a.respond(ctx, t)
	a.ring.Append(memory.RoleAssistant, t.res.Speech)

	elapsed := time.Since(start)
	a.finish(ctx, t, text, elapsed)
	return t.res, nil
}

func (a *Agent) respond(ctx context.Context, t *turn) string {
	topic, err := a.router.Classify(ctx, a.ring.RenderTail(a.cfg.ClassifyTurns))
	if err != nil {
		a.bus.Emit(events.SourceAgent, events.KindTopicClassified, errData(t.res.RequestID, err))
		return a.apologize(ctx, t, OutcomeClassifyFailed, errMsgTopic, err)
	}
	t.res.Topic = topic.String()
	a.bus.Emit(events.SourceAgent, events.KindTopicClassified, map[string]any{
		"request_id": t.res.RequestID,
		"topic":      t.res.Topic,
	})

	switch topic {
	case router.TopicLights, router.TopicSensor:
		t.res.Outcome = OutcomePlaceholder
		t.res.Action = placeholderAction
		return topic.String() + " " + placeholderAction
	case router.TopicMusic:
		return a.handleMusic(ctx, t)
	}
	return a.apologize(ctx, t, OutcomeClassifyFailed, errMsgTopic, errors.New("unhandled topic"))
}

func (a *Agent) handleMusic(ctx context.Context, t *turn) string {
	action, err := a.router.ResolveMusicAction(ctx, a.ring.RenderTail(a.cfg.ClassifyTurns))
	if err != nil {
		a.bus.Emit(events.SourceAgent, events.KindActionResolved, errData(t.res.RequestID, err))
		return a.apologize(ctx, t, OutcomeResolveFailed, errMsgMusicAction, err)
	}
	t.res.Action = action.String()
	a.bus.Emit(events.SourceAgent, events.KindActionResolved, map[string]any{
		"request_id": t.res.RequestID,
		"action":     t.res.Action,
	})

	if action.Verb == music.VerbMessage {
		t.res.Outcome = OutcomeMessage
		return action.Arg
	}

	outcome, err := a.player.Execute(ctx, action)
	deviceEvent := map[string]any{
		"request_id": t.res.RequestID,
		"action":     t.res.Action,
		"ok":         err == nil,
	}
	if err != nil {
		deviceEvent["error"] = err.Error()
	}
	a.bus.Emit(events.SourceAgent, events.KindDeviceCall, deviceEvent)
	if err != nil {
		return a.apologize(ctx, t, OutcomeDeviceFailed, errMsgMusicAction, err)
	}

	t.res.Outcome = OutcomeOK
	return a.rephrase(ctx, t, outcome)
}

// apologize produces the failure reply. A failure rooted in the model
// being unreachable gets the canned text without another model call.
func (a *Agent) apologize(ctx context.Context, t *turn, outcome Outcome, message string, cause error) string {
	t.err = cause
	t.res.Outcome = outcome

	if router.Degraded(cause) {
		t.res.Outcome = OutcomeDegraded
		t.logger.Error("model unreachable, using canned reply", "stage", outcome, "error", cause)
		return ReplyServerBroken
	}
	t.logger.Error(message, "error", cause)

	prompt := prompts.Render(a.templates.Current().UserError, a.ring.RenderTail(a.cfg.ClassifyTurns), message)
	reply, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		t.logger.Error("apology generation failed", "error", err)
		return ReplyServerBroken
	}
	return a.sanitize(reply)
}

func (a *Agent) rephrase(ctx context.Context, t *turn, outcome string) string {
	t.logger.Debug("rephrasing outcome", "outcome", outcome)

	prompt := prompts.Render(a.templates.Current().UserReply, a.ring.RenderTail(a.cfg.ReplyTurns), outcome)
	reply, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		t.err = err
		t.logger.Error("rephrase failed", "error", err)
		return ReplyRephraseBroken
	}
	return a.sanitize(reply)
}

func (a *Agent) sanitize(s string) string {
	s = strings.TrimSpace(s)
	if !a.cfg.StripMarkdown {
		return s
	}
	if plain := speech.Plain(s); plain != "" {
		return plain
	}
	return s
}

func (a *Agent) finish(ctx context.Context, t *turn, text string, elapsed time.Duration) {
	res := t.res
	errText := ""
	if t.err != nil {
		errText = t.err.Error()
	}

	t.logger.Info("turn complete",
		"topic", res.Topic,
		"action", res.Action,
		"outcome", res.Outcome,
		"elapsed", elapsed.Round(time.Millisecond),
	)
	a.metrics.RecordTurn(ctx, res.Topic, string(res.Outcome), elapsed)
	a.bus.Emit(events.SourceAgent, events.KindTurnComplete, map[string]any{
		"request_id": res.RequestID,
		"outcome":    string(res.Outcome),
		"reply":      res.Speech,
		"elapsed_ms": elapsed.Milliseconds(),
	})

	if a.journal == nil {
		return
	}
	err := a.journal.Record(context.WithoutCancel(ctx), journal.Turn{
		RequestID:      res.RequestID,
		ConversationID: res.ConversationID,
		Language:       res.Language,
		UserText:       text,
		Reply:          res.Speech,
		Topic:          res.Topic,
		Action:         res.Action,
		Outcome:        string(res.Outcome),
		Error:          errText,
		DurationMs:     elapsed.Milliseconds(),
	})
	if err != nil {
		t.logger.Warn("failed to journal turn", "error", err)
	}
}

func errData(requestID string, err error) map[string]any {
	return map[string]any{
		"request_id": requestID,
		"error":      err.Error(),
		"error_kind": router.Kind(err).String(),
	}
}
