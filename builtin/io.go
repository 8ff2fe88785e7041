package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentstation/brickflow"
)

// Delay waits before letting the pipeline continue.
type Delay struct{ base }

// NewDelay creates the @brickflow/delay brick.
func NewDelay() *Delay {
	return &Delay{newBase(brickflow.Effect, Metadata{
		ID:          "@brickflow/delay",
		Category:    "control",
		Description: "Waits for a duration; cancellation interrupts the wait",
		InputSchema: object(map[string]any{
			"duration": map[string]any{
				"type":        "string",
				"description": "Duration to wait (e.g. '1s', '500ms')",
				"default":     "1s",
				"pattern":     "^[0-9]+(ns|us|µs|ms|s|m|h)$",
			},
		}),
	})}
}

// Run implements brickflow.Brick.
func (b *Delay) Run(ctx context.Context, args map[string]any, _ brickflow.RunOptions) (any, error) {
	duration := time.Second
	if s := stringArg(args, "duration", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, &brickflow.BusinessError{Message: "invalid duration " + s, Cause: err}
		}
		duration = d
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// HTTP performs an HTTP request. Retries are composed with
// @brickflow/retry rather than built in.
type HTTP struct {
	base
	client *http.Client
}

// NewHTTP creates the @brickflow/http brick. A nil client uses
// http.DefaultClient.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		base: newBase(brickflow.Reader, Metadata{
			ID:          "@brickflow/http",
			Category:    "io",
			Description: "Makes an HTTP request and returns status, headers and body",
			InputSchema: object(map[string]any{
				"url": prop("string", "URL to request"),
				"method": map[string]any{
					"type":    "string",
					"enum":    []any{"GET", "POST", "PUT", "DELETE", "PATCH"},
					"default": "GET",
				},
				"headers": prop("object", "HTTP headers"),
				"body":    prop("", "Request body; objects are sent as JSON"),
				"timeout": propDefault("string", "Request timeout", "30s"),
			}, "url"),
			OutputSchema: object(map[string]any{
				"status":  prop("integer", "Response status code"),
				"headers": prop("object", "Response headers"),
				"body":    prop("", "Decoded JSON body or raw text"),
			}),
			Examples: []Example{
				{
					Name:        "Cached GET",
					Description: "Fetch data once per page and reuse it",
					Config: map[string]any{
						"url":    "https://api.example.com/data",
						"method": "GET",
					},
				},
			},
		}),
		client: client,
	}
}

// Run implements brickflow.Brick.
func (b *HTTP) Run(ctx context.Context, args map[string]any, opts brickflow.RunOptions) (any, error) {
	url := stringArg(args, "url", "")
	method := strings.ToUpper(stringArg(args, "method", http.MethodGet))

	timeout := 30 * time.Second
	if s := stringArg(args, "timeout", ""); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, &brickflow.BusinessError{Message: "invalid timeout " + s, Cause: err}
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	headers := map[string]string{}
	if h, ok := args["headers"].(map[string]any); ok {
		for k, v := range h {
			headers[k] = fmt.Sprint(v)
		}
	}

	var body io.Reader
	if raw, ok := args["body"]; ok && raw != nil && method != http.MethodGet {
		switch v := raw.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal body: %w", err)
			}
			body = bytes.NewReader(data)
			if headers["Content-Type"] == "" {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, &brickflow.BusinessError{Message: "invalid request", Cause: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	opts.Logger.Debug(ctx, "http request", "method", method, "url", url, "status", resp.StatusCode)

	var decoded any = string(data)
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := json.Unmarshal(data, &v); err == nil {
			decoded = v
		}
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%s %s: server error %d", method, url, resp.StatusCode)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return map[string]any{
		"status":  resp.StatusCode,
		"headers": respHeaders,
		"body":    decoded,
	}, nil
}
