package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/digkill/MediaGenBot/internal/catalog"
)

// Kie is the kie.ai jobs API: createTask returns a task id that recordInfo
// reports on.
type Kie struct {
	t transport
}

func NewKie(opts Options, log *slog.Logger) *Kie {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.kie.ai"
	}
	return &Kie{t: newTransport(catalog.ProviderKie, "Bearer "+opts.APIKey, opts, log)}
}

func (k *Kie) Name() string { return catalog.ProviderKie }

func (k *Kie) resolve(path string, query url.Values) (string, error) {
	baseURL, err := url.Parse(k.t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	endpoint, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}
	return baseURL.ResolveReference(endpoint).String(), nil
}

func (k *Kie) Submit(ctx context.Context, model catalog.Model, input map[string]any) (Handle, error) {
	fullURL, err := k.resolve("/api/v1/jobs/createTask", nil)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %w", ErrSubmission, err)
	}

	payload := map[string]any{
		"model": model.Endpoint,
		"input": input,
	}

	var createResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID string `json:"taskId"`
		} `json:"data"`
	}
	if err := k.t.do(ctx, http.MethodPost, fullURL, payload, &createResp); err != nil {
		return Handle{}, fmt.Errorf("%w: kie %s: %w", ErrSubmission, model.ID, err)
	}
	if createResp.Code != 200 {
		return Handle{}, fmt.Errorf("%w: kie %s: code=%d msg=%s", ErrSubmission, model.ID, createResp.Code, createResp.Msg)
	}
	if createResp.Data.TaskID == "" {
		return Handle{}, fmt.Errorf("%w: kie %s: empty taskId in response", ErrSubmission, model.ID)
	}

	k.t.log.Info("kie task created", "model", model.ID, "task_id", createResp.Data.TaskID)
	return Handle{Provider: k.Name(), ID: createResp.Data.TaskID}, nil
}

func (k *Kie) Poll(ctx context.Context, model catalog.Model, h Handle) (Status, error) {
	fullURL, err := k.resolve("/api/v1/jobs/recordInfo", url.Values{"taskId": {h.ID}})
	if err != nil {
		return Status{}, err
	}

	var statusResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Data struct {
			TaskID     string `json:"taskId"`
			State      string `json:"state"`
			ResultJSON string `json:"resultJson"`
			FailCode   string `json:"failCode"`
			FailMsg    string `json:"failMsg"`
		} `json:"data"`
	}
	if err := k.t.do(ctx, http.MethodGet, fullURL, nil, &statusResp); err != nil {
		return Status{}, fmt.Errorf("kie poll %s: %w", h.ID, err)
	}
	if statusResp.Code != 200 {
		return Status{}, fmt.Errorf("kie poll %s: code=%d msg=%s", h.ID, statusResp.Code, statusResp.Msg)
	}

	switch statusResp.Data.State {
	case "success":
		var result struct {
			ResultURLs []string `json:"resultUrls"`
		}
		if statusResp.Data.ResultJSON != "" {
			if err := json.Unmarshal([]byte(statusResp.Data.ResultJSON), &result); err != nil {
				return Status{State: StateFailed, Error: "unreadable resultJson"}, nil
			}
		}
		res, err := NormalizeOutput(model.Output, result.ResultURLs)
		if err != nil {
			return Status{State: StateFailed, Error: err.Error()}, nil
		}
		return Status{State: StateSucceeded, Result: res}, nil
	case "fail":
		failMsg := statusResp.Data.FailMsg
		if failMsg == "" {
			failMsg = "unknown error"
		}
		k.t.log.Error("kie task failed", "task_id", h.ID, "fail_code", statusResp.Data.FailCode, "fail_msg", failMsg)
		return Status{State: StateFailed, Error: fmt.Sprintf("%s (code: %s)", failMsg, statusResp.Data.FailCode)}, nil
	case "waiting", "generating", "processing", "queued", "queueing":
		return Status{State: StatePending}, nil
	default:
		return Status{}, fmt.Errorf("kie poll %s: unknown task state %q", h.ID, statusResp.Data.State)
	}
}
