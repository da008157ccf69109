// Package backend talks to the conversational HTTP API the relay fronts.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/domain"
)

// Replies shown to the user for each backend outcome.
const (
	MsgDeleted       = "Conversation deleted."
	MsgDeleteFailed  = "Error in deletion."
	MsgRequestFailed = "Sorry, there was an error processing your request."
)

const (
	defaultTimeout = 120 * time.Second
	apiKeyHeader   = "x-api-key"
	maxErrorBody   = 512
)

// StatusError is returned when the backend answers with a non-200 status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: backend returned HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: backend returned HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // 0 uses the default of 120s
	HTTPClient *http.Client  // optional; overrides Timeout
	Logger     *slog.Logger
}

// Client performs one backend operation per call. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
		logger:  cfg.Logger,
	}
}

// SharedHTTPClient returns an HTTP client with connection pooling. The
// timeout bounds the whole exchange including reading a streamed body.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Delete resets the stored conversation of userID.
func (c *Client) Delete(ctx context.Context, userID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/delete/"+url.PathEscape(userID), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("delete conversation", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Converse sends one turn for userID and returns the non-empty, trimmed
// chunks of the streamed answer in arrival order.
func (c *Client) Converse(ctx context.Context, userID string, body domain.OutboundRequest) ([]string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/conversations/"+url.PathEscape(userID), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("conversation", resp)
	}

	chunks, err := ReadChunks(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("conversation: read stream: %w", err)
	}
	c.logger.Debug("backend stream finished", "user_id", userID, "chunks", len(chunks))
	return chunks, nil
}

// Ping checks that the base URL answers HTTP at all. Any status counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
