// Package client is a Go client for the craftvisor HTTP API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client talks to one craftvisor daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
}

const (
	DefaultBaseURL = "http://127.0.0.1:8765/api"
	DefaultTimeout = 10 * time.Second
)

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
}

// New creates a client. TLS settings are only read for https URLs.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if strings.HasPrefix(config.BaseURL, "https://") {
		tc, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tc
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		logger:  config.Logger,
	}, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
	}
	if config.TLS == nil {
		return tlsConfig, nil
	}
	tlsConfig.ServerName = config.TLS.ServerName
	if config.TLS.CACert != "" {
		pem, err := os.ReadFile(config.TLS.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", config.TLS.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) Start(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/start", nil, nil, &out)
	return out, err
}

// Stop asks the server to stop. A positive wait blocks until it has stopped.
func (c *Client) Stop(ctx context.Context, wait time.Duration) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodPost, "/stop", waitQuery(wait), nil, &out)
	return out, err
}

// Restart restarts the server. With wait 0 it returns as soon as the restart
// has been scheduled.
func (c *Client) Restart(ctx context.Context, wait time.Duration) error {
	return c.do(ctx, http.MethodPost, "/restart", waitQuery(wait), nil, nil)
}

// Command writes a console command.
func (c *Client) Command(ctx context.Context, command string) error {
	return c.do(ctx, http.MethodPost, "/command", nil, map[string]string{"command": command}, nil)
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

func (c *Client) Metrics(ctx context.Context) (Snapshot, error) {
	var out Snapshot
	err := c.do(ctx, http.MethodGet, "/metrics/current", nil, nil, &out)
	return out, err
}

// MetricsHistory returns up to limit samples, oldest first. 0 means all.
func (c *Client) MetricsHistory(ctx context.Context, limit int) ([]Snapshot, error) {
	var out []Snapshot
	err := c.do(ctx, http.MethodGet, "/metrics/history", intQuery("limit", limit), nil, &out)
	return out, err
}

// Average returns the mean snapshot over the trailing window.
func (c *Client) Average(ctx context.Context, window time.Duration) (Snapshot, error) {
	var out Snapshot
	q := url.Values{"window": {window.String()}}
	err := c.do(ctx, http.MethodGet, "/metrics/average", q, nil, &out)
	return out, err
}

func (c *Client) Thresholds(ctx context.Context) (Thresholds, error) {
	var out Thresholds
	err := c.do(ctx, http.MethodGet, "/alerts/thresholds", nil, nil, &out)
	return out, err
}

// SetThresholds sends a partial update; keys absent from patch keep their
// current value.
func (c *Client) SetThresholds(ctx context.Context, patch map[string]any) (Thresholds, error) {
	var out Thresholds
	err := c.do(ctx, http.MethodPut, "/alerts/thresholds", nil, patch, &out)
	return out, err
}

func (c *Client) Console(ctx context.Context, lines int) ([]ConsoleLine, error) {
	var out []ConsoleLine
	err := c.do(ctx, http.MethodGet, "/console", intQuery("lines", lines), nil, &out)
	return out, err
}

func (c *Client) Launch(ctx context.Context) (Launch, error) {
	var out Launch
	err := c.do(ctx, http.MethodGet, "/launch", nil, nil, &out)
	return out, err
}

func (c *Client) SetLaunch(ctx context.Context, l Launch) (Launch, error) {
	var out Launch
	err := c.do(ctx, http.MethodPut, "/launch", nil, l, &out)
	return out, err
}

func (c *Client) EULA(ctx context.Context) (bool, error) {
	var out struct {
		Accepted bool `json:"accepted"`
	}
	err := c.do(ctx, http.MethodGet, "/eula", nil, nil, &out)
	return out.Accepted, err
}

func (c *Client) AcceptEULA(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/eula", nil, nil, nil)
}

func (c *Client) History(ctx context.Context, limit int) ([]HistoryEvent, error) {
	var out []HistoryEvent
	err := c.do(ctx, http.MethodGet, "/history", intQuery("limit", limit), nil, &out)
	return out, err
}

func waitQuery(d time.Duration) url.Values {
	if d <= 0 {
		return nil
	}
	return url.Values{"wait": {d.String()}}
}

func intQuery(name string, n int) url.Values {
	if n <= 0 {
		return nil
	}
	return url.Values{name: {strconv.Itoa(n)}}
}

// do performs one request. in is JSON-encoded when non-nil and out decoded
// from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	c.logger.Debug("API request failed", "status", resp.StatusCode, "kind", apiErr.Kind, "error", apiErr.Message)
	return apiErr
}
