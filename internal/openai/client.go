// Copyright (c) 2025 Van Hai Nguyen
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the default OpenAI-compatible API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout bounds blocking (non-streaming) requests.
	DefaultTimeout = 60 * time.Second

	// MaxResponseSize caps blocking response bodies.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// Shared HTTP client with connection pooling for blocking requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient carries no client timeout; streaming requests
	// are bounded by the caller's context instead.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// CLIENT
// =============================================================================

// Client issues chat-completion requests to one endpoint. Each call is a
// single attempt: there is no retry policy at this layer.
type Client struct {
	apiKey      string
	baseURL     string
	temperature float64
	topP        float64
	referer     string
	httpClient  *http.Client
	streamHTTP  *http.Client
}

// NewClient creates a client for the given API key against the default
// endpoint. An empty key is allowed; calls then fail with ErrNotConfigured.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:      strings.TrimSpace(apiKey),
		baseURL:     DefaultBaseURL,
		temperature: 0.7,
		httpClient:  sharedHTTPClient,
		streamHTTP:  sharedStreamingClient,
	}
}

// WithBaseURL sets a custom API root (without the /chat/completions path).
func (c *Client) WithBaseURL(url string) *Client {
	if url = strings.TrimSpace(url); url != "" {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
	return c
}

// WithSampling sets temperature and top_p for subsequent requests.
// A topP of 0 omits the field from the request body.
func (c *Client) WithSampling(temperature, topP float64) *Client {
	c.temperature = temperature
	c.topP = topP
	return c
}

// WithReferer sets the HTTP-Referer header some gateways use for
// request categorization.
func (c *Client) WithReferer(url string) *Client {
	c.referer = url
	return c
}

// IsConfigured returns true if the client has an API key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// KeyFingerprint returns a short SHA-256 fingerprint of the API key for
// logging. The key itself is never logged.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// endpoint returns the full chat-completions URL.
func (c *Client) endpoint() string {
	return c.baseURL + "/chat/completions"
}

// setHeaders sets the required headers for an API request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "polychat/0.3.0")
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
}

// logRequest logs an API request without headers or body.
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API request: %s %s (key=%s)", req.Method, req.URL.Path, c.KeyFingerprint())
}

// logResponse logs only status and duration, never the response body.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API response: %d (%v)", resp.StatusCode, duration)
}

// =============================================================================
// BLOCKING CHAT
// =============================================================================

// Chat performs one blocking chat-completion request and returns the
// final assistant text. Cancellation via ctx surfaces as ctx.Err().
func (c *Client) Chat(ctx context.Context, model string, messages []Message) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	body := chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
		Stream:      false,
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	c.logRequest(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	respBody, err := readResponse(resp)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", errorFromResponse(resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return parsed.content(), nil
}

// readResponse reads a response body with a size limit. One byte past
// the limit is read so a body of exactly MaxResponseSize still passes.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", int64(MaxResponseSize))
	}
	return body, nil
}

// errorFromResponse converts a non-2xx response into an error value,
// mapping well-known statuses onto sentinel errors.
func errorFromResponse(statusCode int, body []byte) error {
	apiErr := &APIError{Status: statusCode, Message: strings.TrimSpace(string(body))}

	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	}
	return apiErr
}
