package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/digkill/MediaGenBot/internal/catalog"
)

type Replicate struct {
	t transport
}

func NewReplicate(opts Options, log *slog.Logger) *Replicate {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.replicate.com"
	}
	return &Replicate{t: newTransport(catalog.ProviderReplicate, "Bearer "+opts.APIKey, opts, log)}
}

func (r *Replicate) Name() string { return catalog.ProviderReplicate }

type prediction struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Output any    `json:"output"`
	Error  any    `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Submit creates a prediction. Endpoints of the form owner/name:version go
// through the versioned predictions API.
func (r *Replicate) Submit(ctx context.Context, model catalog.Model, input map[string]any) (Handle, error) {
	owner, version, _ := strings.Cut(model.Endpoint, ":")
	var (
		endpoint string
		payload  map[string]any
	)
	if version != "" {
		endpoint = r.t.baseURL + "/v1/predictions"
		payload = map[string]any{"version": version, "input": input}
	} else {
		endpoint = r.t.baseURL + "/v1/models/" + owner + "/predictions"
		payload = map[string]any{"input": input}
	}

	var p prediction
	if err := r.t.do(ctx, http.MethodPost, endpoint, payload, &p); err != nil {
		return Handle{}, fmt.Errorf("%w: replicate %s: %w", ErrSubmission, model.ID, err)
	}
	if p.ID == "" {
		return Handle{}, fmt.Errorf("%w: replicate %s: empty prediction id", ErrSubmission, model.ID)
	}
	if p.Status == "failed" || p.Status == "canceled" {
		return Handle{}, fmt.Errorf("%w: replicate %s: prediction %s %s: %v", ErrSubmission, model.ID, p.ID, p.Status, p.Error)
	}

	statusURL := p.URLs.Get
	if statusURL == "" {
		statusURL = r.t.baseURL + "/v1/predictions/" + url.PathEscape(p.ID)
	}
	r.t.log.Info("prediction created", "model", model.ID, "prediction", p.ID)
	return Handle{Provider: r.Name(), ID: p.ID, StatusURL: statusURL}, nil
}

func (r *Replicate) Poll(ctx context.Context, model catalog.Model, h Handle) (Status, error) {
	statusURL := h.StatusURL
	if statusURL == "" {
		statusURL = r.t.baseURL + "/v1/predictions/" + url.PathEscape(h.ID)
	}

	var p prediction
	if err := r.t.do(ctx, http.MethodGet, statusURL, nil, &p); err != nil {
		return Status{}, fmt.Errorf("replicate poll %s: %w", h.ID, err)
	}

	switch p.Status {
	case "starting", "processing", "":
		return Status{State: StatePending}, nil
	case "succeeded":
		res, err := NormalizeOutput(model.Output, p.Output)
		if err != nil {
			return Status{State: StateFailed, Error: err.Error()}, nil
		}
		return Status{State: StateSucceeded, Result: res}, nil
	case "canceled":
		return Status{State: StateCanceled, Error: "prediction canceled"}, nil
	case "failed":
		return Status{State: StateFailed, Error: errorText(p.Error)}, nil
	default:
		return Status{}, fmt.Errorf("replicate poll %s: unknown status %q", h.ID, p.Status)
	}
}

func errorText(v any) string {
	switch e := v.(type) {
	case nil:
		return "unknown error"
	case string:
		if e == "" {
			return "unknown error"
		}
		return e
	default:
		return fmt.Sprint(e)
	}
}
