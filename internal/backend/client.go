package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout is the default timeout for conversation API calls.
	DefaultTimeout = 10 * time.Second

	// NoResponseText is relayed when the backend answers without a response field.
	NoResponseText = "No response from Home Assistant."

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 1 << 20
)

// Client implements the Backend interface over HTTP.
type Client struct {
	httpClient *http.Client
	config     Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// jsonResponse is the envelope returned by the conversation API.
type jsonResponse struct {
	Response json.RawMessage `json:"response"`
}

// conversationResult is the structured response Home Assistant returns from
// /api/conversation/process.
type conversationResult struct {
	Speech struct {
		Plain struct {
			Speech string `json:"speech"`
		} `json:"plain"`
	} `json:"speech"`
}

// NewClient creates a new conversation API client.
func NewClient(config Config, opts ...Option) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("backend URL cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Send posts req to the conversation API and returns its reply.
func (c *Client) Send(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransportError{Op: "encode request", Err: err}
	}

	sendCtx, cancel := prepareContext(ctx, c.config.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Op: "build request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, handleRequestError(sendCtx, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{
			Op:         "post conversation",
			Err:        fmt.Errorf("%w: %s", ErrStatus, resp.Status),
			StatusCode: resp.StatusCode,
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, handleRequestError(sendCtx, err)
	}

	text, err := parseResponse(data)
	if err != nil {
		return nil, &TransportError{Op: "decode response", Err: err}
	}

	return &Reply{Text: text}, nil
}

func prepareContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, timeout)
	}
	return ctx, func() {}
}

func handleRequestError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Op: "post conversation", Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Op: "post conversation", Err: fmt.Errorf("%w: %w", ErrTimeout, err)}
	}

	return &TransportError{Op: "post conversation", Err: err}
}

// parseResponse extracts the reply text from a response body.
func parseResponse(data []byte) (string, error) {
	var envelope jsonResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	raw := bytes.TrimSpace(envelope.Response)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NoResponseText, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var result conversationResult
	if err := json.Unmarshal(raw, &result); err == nil {
		if speech := strings.TrimSpace(result.Speech.Plain.Speech); speech != "" {
			return speech, nil
		}
	}

	return NoResponseText, nil
}
