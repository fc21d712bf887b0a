package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/paavoai/paavo/internal/httpkit"
)

// noThinkSuffix asks qwen3-style models to skip their reasoning block.
const noThinkSuffix = "\n/nothink"

// logLevelTrace mirrors config.LevelTrace without importing config.
const logLevelTrace = slog.Level(-8)

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// OllamaClient is the LLM gateway: one non-streaming /api/generate call
// per prompt against a single configured model.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient returns a client for baseURL (http://host:port) that
// generates with model and gives up on a request after timeout.
func NewOllamaClient(baseURL, model string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		// Non-streaming generate only sends headers once the model is
		// done, so the header timeout has to match the request timeout.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithResponseHeaderTimeout(timeout),
		),
		logger: logger.With("component", "ollama"),
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response *string `json:"response"`
}

// Generate sends prompt to the model and returns its reply with any
// <think> block removed. Every failure is a *GatewayError.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Prompt: strings.TrimSpace(prompt) + noThinkSuffix,
		Model:  c.model,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, logLevelTrace, "generate request", "body", string(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Kind: KindUnreachable, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &GatewayError{
			Kind:       KindBadStatus,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &GatewayError{Kind: KindMalformedBody, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Response == nil {
		return "", &GatewayError{Kind: KindMalformedBody, Err: errors.New("missing response field")}
	}

	text := StripThinking(*out.Response)
	c.logger.Debug("generate complete",
		"model", c.model,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"reply_len", len(text),
	)
	c.logger.Log(ctx, logLevelTrace, "generate response", "raw", *out.Response)
	return text, nil
}

// StripThinking removes every <think>...</think> block plus the
// whitespace after it, then trims the result.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// Ping checks that the server answers /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}

// ListModels returns the names of the models installed on the server.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &GatewayError{Kind: KindUnreachable, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &GatewayError{
			Kind:       KindBadStatus,
			StatusCode: resp.StatusCode,
			Body:       httpkit.ReadErrorBody(resp.Body, 512),
		}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &GatewayError{Kind: KindMalformedBody, Err: fmt.Errorf("decode response: %w", err)}
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}

// CheckModel verifies the server is reachable and reports whether the
// configured model is installed. A nil error with false means the
// server answered but the model is missing.
func (c *OllamaClient) CheckModel(ctx context.Context) (bool, error) {
	names, err := c.ListModels(ctx)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if n == c.model || strings.TrimSuffix(n, ":latest") == c.model {
			return true, nil
		}
	}
	return false, nil
}
