// Paavo is a Home Assistant conversation agent backed by a local Ollama
// model.
//
// It exposes a native JSON API, an optional Ollama-compatible API (so
// Home Assistant's stock Ollama integration can drive it), and a CLI for
// one-shot questions. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	paavo serve              Start the API server
//	paavo init [dir]         Initialize a working directory with defaults
//	paavo ask <question>     Run a single turn and print the reply
//	paavo version            Print version and build information
//	paavo -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/paavoai/paavo/internal/agent"
	"github.com/paavoai/paavo/internal/api"
	"github.com/paavoai/paavo/internal/buildinfo"
	"github.com/paavoai/paavo/internal/config"
	"github.com/paavoai/paavo/internal/connwatch"
	"github.com/paavoai/paavo/internal/events"
	"github.com/paavoai/paavo/internal/homeassistant"
	"github.com/paavoai/paavo/internal/journal"
	"github.com/paavoai/paavo/internal/llm"
	"github.com/paavoai/paavo/internal/metrics"
	"github.com/paavoai/paavo/internal/mqtt"
	"github.com/paavoai/paavo/internal/music"
	"github.com/paavoai/paavo/internal/prompts"
	"github.com/paavoai/paavo/internal/workpool"
)

// main only builds the OS-level environment and hands off to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. ctx bounds the process lifetime, logs go
// to stdout, and args is os.Args[1:]. Arguments are parsed by hand
// because the flag package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: paavo ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "platform"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Paavo - Home Assistant conversation agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: paavo [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  init [dir]   Write default config.yaml and paavo.toml (default: .)")
	fmt.Fprintln(w, "  ask          Run a single turn and print the reply")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk handles "paavo ask <question>". It builds an agent with no
// journal, event bus or servers and runs exactly one turn.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if cfg.LogLevel == "" {
		level = slog.LevelWarn
	}
	logger := newLogger(stderr, level, cfg.LogFormat)
	logger.Debug("config loaded", "path", cfgPath)

	store, err := loadPrompts(cfg, cfgPath, logger)
	if err != nil {
		return err
	}
	ctrl, _ := newController(cfg, logger)

	a := agent.New(agentConfig(cfg), agent.Deps{
		Generator:  llm.NewOllamaClient(cfg.Ollama.BaseURL(), cfg.Ollama.Model, cfg.Ollama.Timeout(), logger),
		Controller: ctrl,
		Prompts:    store,
		Logger:     logger,
	})

	res, err := a.Process(ctx, agent.Input{
		Text:           strings.Join(args, " "),
		Language:       cfg.Conversation.Languages[0],
		ConversationID: "cli",
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(stdout, res.Speech)
	return nil
}

// runServe handles "paavo serve". It wires every component, starts the
// API server(s), and blocks until SIGINT or SIGTERM.
//
// Shutdown order:
//  1. the signal cancels ctx, stopping watchers and the prompt watcher
//  2. MQTT publishes offline and disconnects
//  3. HTTP servers drain in-flight turns
//  4. the journal and metrics provider close via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Paavo", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Everything after this point logs at the configured level and format.
	{
		level, _ := config.ParseLogLevel(cfg.LogLevel)
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Ollama.Model,
		"ollama_url", cfg.Ollama.BaseURL(),
		"entity_id", cfg.Music.EntityID,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- LLM gateway ---
	ollama := llm.NewOllamaClient(cfg.Ollama.BaseURL(), cfg.Ollama.Model, cfg.Ollama.Timeout(), logger)
	if cfg.Ollama.CheckOnStartup() {
		if err := checkOllama(ctx, ollama, cfg.Ollama.Timeout(), logger); err != nil {
			return err
		}
	}

	// --- Metrics ---
	provider, err := metrics.NewPrometheusProvider()
	if err != nil {
		return fmt.Errorf("create metrics provider: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	m, err := metrics.New(provider)
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	bus := events.New()

	// --- Prompt templates ---
	store, err := loadPrompts(cfg, cfgPath, logger)
	if err != nil {
		return err
	}
	if cfg.Conversation.WatchPrompts {
		store.OnReload(func(path string, err error) {
			data := map[string]any{"path": path, "ok": err == nil}
			if err != nil {
				data["error"] = err.Error()
			}
			bus.Emit(events.SourcePrompts, events.KindPromptsReloaded, data)
		})
		if err := store.Watch(ctx); err != nil {
			logger.Warn("prompt file watch unavailable", "error", err)
		}
	}

	// --- Home Assistant ---
	ctrl, ha := newController(cfg, logger)

	// --- Turn journal ---
	var journalStore *journal.Store
	if cfg.Journal.Enabled {
		db, err := journal.Open(cfg.Journal.Path, cfg.Journal.Driver)
		if err != nil {
			return err
		}
		journalStore, err = journal.NewStore(db)
		if err != nil {
			db.Close()
			return fmt.Errorf("open journal %s: %w", cfg.Journal.Path, err)
		}
		defer journalStore.Close()
		logger.Info("turn journal opened", "path", cfg.Journal.Path, "driver", cfg.Journal.Driver)
	}

	// --- Agent ---
	deps := agent.Deps{
		Generator:  ollama,
		Controller: ctrl,
		Prompts:    store,
		Pool:       workpool.New(cfg.Workers.Max),
		Bus:        bus,
		Metrics:    m,
		Logger:     logger,
	}
	if journalStore != nil {
		deps.Journal = journalStore
	}
	a := agent.New(agentConfig(cfg), deps)

	// --- Connection watching ---
	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()

	ollamaWatcher := connMgr.Watch(ctx, "ollama", ollama.Ping, connwatch.DefaultSchedule(), nil)
	if ha != nil {
		connMgr.Watch(ctx, "homeassistant", ha.Ping, connwatch.DefaultSchedule(), func(ready bool, _ error) {
			if !ready {
				return
			}
			infoCtx, infoCancel := context.WithTimeout(ctx, 10*time.Second)
			defer infoCancel()
			if haCfg, err := ha.GetConfig(infoCtx); err == nil {
				logger.Info("connected to Home Assistant",
					"url", cfg.HomeAssistant.URL,
					"version", haCfg.Version,
					"location", haCfg.LocationName,
				)
			}
		})
	}

	// --- Native API ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a, logger)
	server.SetHistory(a.History())
	server.SetRouter(a.Router())
	server.SetPlayer(a.Player())
	server.SetHealth(connMgr)
	server.SetEventBus(bus)
	server.SetMetricsHandler(metrics.Handler())
	server.SetLanguages(cfg.Conversation.Languages)
	if journalStore != nil {
		server.SetJournal(journalStore)
	}

	// --- Ollama-compatible API ---
	var ollamaServer *api.OllamaServer
	if cfg.OllamaAPI.Enabled {
		ollamaServer = api.NewOllamaServer(cfg.OllamaAPI.Address, cfg.OllamaAPI.Port, a, cfg.Conversation.Languages[0], logger)
		go func() {
			if err := ollamaServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ollama API server failed", "error", err)
			}
		}()
	}

	// --- MQTT publisher ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		tracker := &mqtt.Tracker{}
		go tracker.Follow(ctx, bus)

		mqttPub = mqtt.New(cfg.MQTT, instanceID, tracker, ollamaWatcher.IsReady, logger)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishInterval(),
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
		if ollamaServer != nil {
			_ = ollamaServer.Shutdown(shutdownCtx)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}
	cancel()
	<-stopped

	logger.Info("Paavo stopped")
	return nil
}

// checkOllama runs the startup connectivity check. An unreachable server
// is fatal; a missing model is only logged because it may still be
// pulling.
func checkOllama(ctx context.Context, c *llm.OllamaClient, timeout time.Duration, logger *slog.Logger) error {
	checkCtx, checkCancel := context.WithTimeout(ctx, timeout)
	defer checkCancel()

	ok, err := c.CheckModel(checkCtx)
	if err != nil {
		return fmt.Errorf("ollama startup check: %w", err)
	}
	if !ok {
		logger.Warn("configured model not found on Ollama server", "model", c.Model())
		return nil
	}
	logger.Info("Ollama reachable", "model", c.Model())
	return nil
}

// errHANotConfigured is what every device call fails with when
// homeassistant.url/token are unset.
var errHANotConfigured = errors.New("home assistant not configured")

// offlineController stands in for Home Assistant when it is not
// configured, so music turns end in an apology instead of a nil panic.
type offlineController struct{}

func (offlineController) CallService(context.Context, string, string, map[string]any) error {
	return errHANotConfigured
}

func (offlineController) GetState(context.Context, string) (*homeassistant.State, error) {
	return nil, errHANotConfigured
}

// newController returns the device controller and, when Home Assistant
// is configured, the concrete client for health probing.
func newController(cfg *config.Config, logger *slog.Logger) (music.Controller, *homeassistant.Client) {
	if !cfg.HomeAssistant.Configured() {
		logger.Warn("Home Assistant not configured - music commands will fail")
		return offlineController{}, nil
	}
	var opts []homeassistant.Option
	if cfg.HomeAssistant.InsecureSkipVerify {
		opts = append(opts, homeassistant.WithInsecureTLS())
	}
	ha := homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger, opts...)
	logger.Debug("Home Assistant configured", "url", cfg.HomeAssistant.URL)
	return ha, ha
}

// loadPrompts opens the prompt store. A relative prompts_file resolves
// against the config file's directory. A missing file falls back to the
// built-in templates; an invalid one is an error.
func loadPrompts(cfg *config.Config, cfgPath string, logger *slog.Logger) (*prompts.Store, error) {
	path := cfg.Conversation.PromptsFile
	if path == "" {
		return prompts.NewStore("", logger)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(cfgPath), path)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn("prompt file not found, using built-in templates", "path", path)
		return prompts.NewStore("", logger)
	}
	store, err := prompts.NewStore(path, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("prompt templates loaded", "path", path)
	return store, nil
}

// agentConfig maps the conversation settings onto the agent.
func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		HistorySize:       cfg.Conversation.HistorySize,
		ClassifyTurns:     cfg.Conversation.ClassifyTurns,
		ReplyTurns:        cfg.Conversation.ReplyTurns,
		EntityID:          cfg.Music.EntityID,
		DefaultPlaylistID: cfg.Music.DefaultPlaylistID,
		MaxAuditLog:       cfg.Router.MaxAuditLog,
		StripMarkdown:     cfg.Conversation.SanitizeSpeech(),
	}
}

// newLogger creates a structured logger writing to w. Format is "text"
// or "json"; anything else falls back to text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration. An explicit path
// must exist; otherwise [config.FindConfig] searches the defaults.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
