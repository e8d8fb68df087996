package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/digkill/MediaGenBot/internal/catalog"
)

// Fal uses the fal.ai queue API: submit, then status and response URLs.
type Fal struct {
	t transport
}

func NewFal(opts Options, log *slog.Logger) *Fal {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://queue.fal.run"
	}
	return &Fal{t: newTransport(catalog.ProviderFal, "Key "+opts.APIKey, opts, log)}
}

func (f *Fal) Name() string { return catalog.ProviderFal }

type falQueued struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

type falStatus struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// appPath keeps owner/app of an endpoint such as fal-ai/veo3/fast.
func appPath(endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return strings.Join(parts, "/")
}

func (f *Fal) Submit(ctx context.Context, model catalog.Model, input map[string]any) (Handle, error) {
	endpoint := f.t.baseURL + "/" + strings.Trim(model.Endpoint, "/")

	var q falQueued
	if err := f.t.do(ctx, http.MethodPost, endpoint, input, &q); err != nil {
		return Handle{}, fmt.Errorf("%w: fal %s: %w", ErrSubmission, model.ID, err)
	}
	if q.RequestID == "" {
		return Handle{}, fmt.Errorf("%w: fal %s: empty request id", ErrSubmission, model.ID)
	}

	base := f.t.baseURL + "/" + appPath(model.Endpoint) + "/requests/" + q.RequestID
	h := Handle{Provider: f.Name(), ID: q.RequestID, StatusURL: q.StatusURL, ResultURL: q.ResponseURL}
	if h.StatusURL == "" {
		h.StatusURL = base + "/status"
	}
	if h.ResultURL == "" {
		h.ResultURL = base
	}
	f.t.log.Info("fal request queued", "model", model.ID, "request", q.RequestID)
	return h, nil
}

func (f *Fal) Poll(ctx context.Context, model catalog.Model, h Handle) (Status, error) {
	var st falStatus
	if err := f.t.do(ctx, http.MethodGet, h.StatusURL, nil, &st); err != nil {
		return Status{}, fmt.Errorf("fal poll %s: %w", h.ID, err)
	}

	switch st.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		return Status{State: StatePending}, nil
	case "COMPLETED":
	default:
		return Status{}, fmt.Errorf("fal poll %s: unknown status %q", h.ID, st.Status)
	}
	if st.Error != "" {
		return Status{State: StateFailed, Error: st.Error}, nil
	}

	var out map[string]any
	if err := f.t.do(ctx, http.MethodGet, h.ResultURL, nil, &out); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 {
			return Status{State: StateFailed, Error: httpErr.Body}, nil
		}
		return Status{}, fmt.Errorf("fal result %s: %w", h.ID, err)
	}
	res, err := NormalizeOutput(model.Output, out)
	if err != nil {
		return Status{State: StateFailed, Error: err.Error()}, nil
	}
	return Status{State: StateSucceeded, Result: res}, nil
}
