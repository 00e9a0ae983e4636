package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/anygpt-chess/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// RemoteClient talks to an OpenAI-compatible chat completions endpoint.
type RemoteClient struct {
	baseURL string
	model   string
	apiKey  string
	http    *fasthttp.Client
	headers map[string]string

	defaultTimeout time.Duration
	retries        int
}

type RemoteOption func(*RemoteClient)

func WithTimeout(d time.Duration) RemoteOption {
	return func(c *RemoteClient) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRetry sets how many extra attempts follow a retryable failure.
func WithRetry(n int) RemoteOption {
	return func(c *RemoteClient) {
		if n >= 0 {
			c.retries = n
		}
	}
}

func WithAPIKey(key string) RemoteOption {
	return func(c *RemoteClient) { c.apiKey = strings.TrimSpace(key) }
}

// WithHeaders adds fixed headers to every request. Blank keys or values are
// skipped.
func WithHeaders(h map[string]string) RemoteOption {
	return func(c *RemoteClient) {
		if len(h) == 0 {
			return
		}
		c.headers = make(map[string]string, len(h))
		for k, v := range h {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				c.headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
	}
}

// WithDial replaces the TCP dialer, e.g. with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) RemoteOption {
	return func(c *RemoteClient) { c.http.Dial = dial }
}

func NewRemoteClient(baseURL, model string, opts ...RemoteOption) *RemoteClient {
	c := &RemoteClient{
		baseURL:        strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:          strings.TrimSpace(model),
		http:           &fasthttp.Client{ReadTimeout: 60 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 4},
		defaultTimeout: 30 * time.Second,
		retries:        1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

func (c *RemoteClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := checkOperation(req); err != nil {
		return nil, err
	}
	body := chatRequest{
		Model:     c.model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	var resp Response
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	return &resp, nil
}

func (c *RemoteClient) doJSON(ctx context.Context, method, path string, in any, out any) error {
	url := c.baseURL + path
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	req.Header.SetContentType("application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		resp.Reset()

		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err == nil {
			if status := resp.StatusCode(); status < 200 || status >= 300 {
				err = &APIError{Status: status, Body: truncate(string(resp.Body()), 512)}
			}
		} else {
			err = fmt.Errorf("request failed: %w", err)
		}

		if err == nil {
			if out != nil {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("decode response: %w", err)
				}
			}
			return nil
		}

		lastErr = err
		if attempt == attempts || !IsRetryable(err) {
			return err
		}
		obslog.L().Warn("completion_retry",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return lastErr
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *RemoteClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
