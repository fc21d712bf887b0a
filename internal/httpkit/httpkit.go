// Package httpkit builds the outbound HTTP clients Paavo uses to reach
// Ollama and Home Assistant. Both targets usually sit on the LAN, so the
// transport keeps short dial timeouts, a small idle pool, and an optional
// retry for dial failures that happen before a request reaches the server.
package httpkit

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/paavoai/paavo/internal/buildinfo"
)

// Transport defaults.
const (
	DefaultDialTimeout         = 10 * time.Second
	DefaultKeepAlive           = 30 * time.Second
	DefaultTLSHandshakeTimeout = 10 * time.Second
	// DefaultResponseHeader bounds the wait for response headers. Slow
	// endpoints such as a non-streaming LLM generate call must raise it
	// with WithResponseHeaderTimeout.
	DefaultResponseHeader  = 15 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	DefaultMaxIdleConns    = 16
	DefaultMaxIdlePerHost  = 4
	DefaultRequestTimeout  = 30 * time.Second
)

// ClientOption customizes a client returned by NewClient.
type ClientOption func(*options)

type options struct {
	timeout       time.Duration
	headerTimeout time.Duration
	userAgent     string
	insecureTLS   bool
	retryCount    int
	retryDelay    time.Duration
	logger        *slog.Logger
	baseTransport *http.Transport
}

// WithTimeout sets the whole-request timeout. Zero means no timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.timeout = d }
}

// WithResponseHeaderTimeout overrides DefaultResponseHeader.
func WithResponseHeaderTimeout(d time.Duration) ClientOption {
	return func(o *options) { o.headerTimeout = d }
}

// WithUserAgent replaces the default buildinfo User-Agent.
func WithUserAgent(ua string) ClientOption {
	return func(o *options) { o.userAgent = ua }
}

// WithTLSInsecureSkipVerify disables certificate checks. Meant for a
// Home Assistant instance with a self-signed certificate.
func WithTLSInsecureSkipVerify() ClientOption {
	return func(o *options) { o.insecureTLS = true }
}

// WithTransport replaces the transport NewTransport would build.
func WithTransport(t *http.Transport) ClientOption {
	return func(o *options) { o.baseTransport = t }
}

// WithRetry retries up to count times, delay apart, when dialing fails
// with a host-unreachable, network-unreachable, or refused error. Requests
// whose body cannot be rewound are never retried.
func WithRetry(count int, delay time.Duration) ClientOption {
	return func(o *options) {
		o.retryCount = count
		o.retryDelay = delay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(o *options) { o.logger = l }
}

// NewTransport returns a transport with the package defaults.
func NewTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient returns an *http.Client configured by opts.
func NewClient(opts ...ClientOption) *http.Client {
	o := &options{
		timeout:   DefaultRequestTimeout,
		userAgent: buildinfo.UserAgent(),
	}
	for _, fn := range opts {
		fn(o)
	}

	t := o.baseTransport
	if t == nil {
		t = NewTransport()
	}
	if o.headerTimeout > 0 {
		t.ResponseHeaderTimeout = o.headerTimeout
	}
	if o.insecureTLS {
		if t.TLSClientConfig == nil {
			t.TLSClientConfig = &tls.Config{}
		}
		t.TLSClientConfig.InsecureSkipVerify = true //nolint:gosec // opt-in via config
	}

	var rt http.RoundTripper = &userAgentTransport{base: t, ua: o.userAgent}
	if o.retryCount > 0 {
		rt = &retryTransport{
			base:   rt,
			count:  o.retryCount,
			delay:  o.retryDelay,
			logger: o.logger,
		}
	}

	return &http.Client{Timeout: o.timeout, Transport: rt}
}

type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

type retryTransport struct {
	base   http.RoundTripper
	count  int
	delay  time.Duration
	logger *slog.Logger
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil || !IsDialFailure(err) {
		return resp, err
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return resp, err
	}

	for attempt := 1; attempt <= t.count; attempt++ {
		if t.logger != nil {
			t.logger.Debug("retrying after dial failure",
				"method", req.Method,
				"url", req.URL.String(),
				"attempt", attempt,
				"error", err,
			)
		}

		timer := time.NewTimer(t.delay)
		select {
		case <-req.Context().Done():
			timer.Stop()
			return nil, req.Context().Err()
		case <-timer.C:
		}

		again := req.Clone(req.Context())
		if req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, fmt.Errorf("retry: rewind body: %w", bodyErr)
			}
			again.Body = body
		}

		resp, err = t.base.RoundTrip(again)
		if err == nil || !IsDialFailure(err) {
			return resp, err
		}
	}
	return resp, err
}

// IsDialFailure reports whether err is a connect-phase failure: the
// remote host never saw the request.
func IsDialFailure(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ECONNREFUSED:
		return true
	}
	return false
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection can go back to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}

// ReadErrorBody returns at most limit bytes of rc as a string for use in
// error messages, then drains and closes rc.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	DrainAndClose(rc, 1024)
	if err != nil {
		return fmt.Sprintf("(failed to read error body: %v)", err)
	}
	return string(body)
}
