package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
)

// SharedTransport is the connection pool used by admin API clients
var SharedTransport = &http.Transport{
	MaxIdleConns:        10,
	MaxIdleConnsPerHost: 2,
	IdleConnTimeout:     90 * time.Second,
}

// Client calls a running admin server
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, e.g. "http://127.0.0.1:8787"
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Transport: SharedTransport,
			Timeout:   10 * time.Second,
		},
	}
}

// TokenStatus fetches GET /api/token/status
func (c *Client) TokenStatus(ctx context.Context) (*backendtypes.TokenStatusResponse, error) {
	var out backendtypes.TokenStatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/token/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches GET /health
func (c *Client) Health(ctx context.Context) (*backendtypes.HealthResponse, error) {
	var out backendtypes.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, data interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}

	envelope := backendtypes.APIResponse{Data: data}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decoding %s response (status %d): %w", path, resp.StatusCode, err)
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return fmt.Errorf("%s: %s (%s)", path, envelope.Error.Message, envelope.Error.Code)
		}
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return nil
}
