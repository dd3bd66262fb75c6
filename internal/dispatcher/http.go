// Package dispatcher connects the gateway to a tool host over HTTP.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxErrorBody bounds how much of a failed response is echoed in errors.
const maxErrorBody = 512

// HTTPDispatcher talks to a tool host exposing
//
//	GET  {base}/tools              -> {"tools": ["name", ...]}
//	POST {base}/tools/{name}/call  {"arguments": {...}} -> {"result": ...} | {"error": "..."}
type HTTPDispatcher struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// HTTPOption configures an HTTPDispatcher.
type HTTPOption func(*HTTPDispatcher)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(d *HTTPDispatcher) { d.http = c }
}

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) HTTPOption {
	return func(d *HTTPDispatcher) { d.token = token }
}

func WithLogger(logger *zap.Logger) HTTPOption {
	return func(d *HTTPDispatcher) { d.logger = logger }
}

// NewHTTP creates a dispatcher for the tool host at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) (*HTTPDispatcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("NewHTTP: invalid base URL %q", baseURL)
	}
	d := &HTTPDispatcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type listToolsResponse struct {
	Tools []string `json:"tools"`
}

type callToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type callToolResponse struct {
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

// ListAllTools fetches the host's tool names.
func (d *HTTPDispatcher) ListAllTools(ctx context.Context) ([]string, error) {
	var out listToolsResponse
	if err := d.do(ctx, http.MethodGet, "/tools", nil, &out); err != nil {
		return nil, fmt.Errorf("ListAllTools: %w", err)
	}
	return out.Tools, nil
}

// CallTool invokes one tool. A response carrying "error" is returned as an error.
func (d *HTTPDispatcher) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	body, err := json.Marshal(callToolRequest{Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("CallTool: %w", err)
	}

	var out callToolResponse
	path := "/tools/" + url.PathEscape(name) + "/call"
	if err := d.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("CallTool: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("CallTool: tool error: %s", out.Error)
	}
	return out.Result, nil
}

func (d *HTTPDispatcher) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	start := time.Now()
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	d.logger.Debug("dispatcher request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var payload callToolResponse
		if json.Unmarshal(b, &payload) == nil && payload.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty response body")
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
