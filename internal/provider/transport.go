package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Options configure one adapter.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS caps outbound requests; zero or less disables the limit.
	RPS float64
}

type transport struct {
	name    string
	baseURL string
	auth    string
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func newTransport(name, authHeader string, opts Options, log *slog.Logger) transport {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
		burst = max(1, int(opts.RPS))
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return transport{
		name:    name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		auth:    authHeader,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.With("provider", name),
	}
}

// do sends a JSON request and decodes a 2xx JSON response into out.
func (t transport) do(ctx context.Context, method, fullURL string, payload, out any) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", t.name, err)
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", t.auth)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, t.name, err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 300 {
		t.log.Error("provider request failed", "status", resp.StatusCode, "url", fullURL, "body", truncateBody(rawBody))
		return &HTTPError{StatusCode: resp.StatusCode, Body: truncateBody(rawBody)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rawBody, out); err != nil {
		return fmt.Errorf("decode response: %w (body=%s)", err, truncateBody(rawBody))
	}
	return nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status=%d body=%s", e.StatusCode, e.Body)
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
