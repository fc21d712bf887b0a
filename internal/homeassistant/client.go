// Package homeassistant is a small Home Assistant REST client covering
// what Paavo needs: entity state reads and service calls.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paavoai/paavo/internal/httpkit"
)

// Client talks to one Home Assistant instance with a long-lived token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*clientOptions)

type clientOptions struct {
	insecureTLS bool
	timeout     time.Duration
}

// WithInsecureTLS accepts self-signed certificates.
func WithInsecureTLS() Option {
	return func(o *clientOptions) { o.insecureTLS = true }
}

// WithTimeout overrides the 30 second request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// NewClient returns a client for baseURL (for example
// http://homeassistant.local:8123). Dial failures are retried since HA
// is usually a LAN host that may still be resolving.
func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	o := clientOptions{timeout: 30 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	kit := []httpkit.ClientOption{
		httpkit.WithTimeout(o.timeout),
		httpkit.WithRetry(3, 2*time.Second),
		httpkit.WithLogger(logger),
	}
	if o.insecureTLS {
		kit = append(kit, httpkit.WithTLSInsecureSkipVerify())
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpkit.NewClient(kit...),
		logger:     logger.With("component", "homeassistant"),
	}
}

// State is an entity state as returned by /api/states.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// StringAttr returns attribute key if it is a string.
func (s *State) StringAttr(key string) (string, bool) {
	v, ok := s.Attributes[key].(string)
	return v, ok
}

// FloatAttr returns attribute key if it is a JSON number.
func (s *State) FloatAttr(key string) (float64, bool) {
	v, ok := s.Attributes[key].(float64)
	return v, ok
}

// Config is the subset of /api/config Paavo reports.
type Config struct {
	LocationName string `json:"location_name"`
	TimeZone     string `json:"time_zone"`
	Version      string `json:"version"`
	Language     string `json:"language"`
}

// APIError is a non-200 answer from Home Assistant.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from Home Assistant, which is
// what /api/states returns for an unknown entity.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Ping checks that the API answers and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	var status struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/", nil, &status); err != nil {
		return err
	}
	if status.Message != "API running." {
		return fmt.Errorf("unexpected API status: %s", status.Message)
	}
	return nil
}

// GetConfig returns basic information about the instance.
func (c *Client) GetConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := c.do(ctx, http.MethodGet, "/api/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetState reads one entity.
func (c *Client) GetState(ctx context.Context, entityID string) (*State, error) {
	var st State
	if err := c.do(ctx, http.MethodGet, "/api/states/"+url.PathEscape(entityID), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// CallService invokes domain.service with data and waits for Home
// Assistant to finish executing it.
func (c *Client) CallService(ctx context.Context, domain, service string, data map[string]any) error {
	path := "/api/services/" + url.PathEscape(domain) + "/" + url.PathEscape(service)
	c.logger.Debug("calling service", "domain", domain, "service", service, "entity_id", data["entity_id"])
	return c.do(ctx, http.MethodPost, path, data, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal data: %w", err)
		}
		c.logger.Log(ctx, slog.Level(-8), "request body", "path", path, "body", string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: httpkit.ReadErrorBody(resp.Body, 512)}
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
