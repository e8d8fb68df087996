// Package provider submits generation jobs to the external job APIs and polls
// them. Every adapter maps the canonical parameter bag to its own schema and
// maps results back through NormalizeOutput.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/metrics"
)

var (
	ErrSubmission      = errors.New("job submission failed")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyOutput     = errors.New("provider returned no usable output")
)

type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// Result is the canonical job output: a media URL or a text answer.
type Result struct {
	URL  string `json:"url,omitempty"`
	Text string `json:"text,omitempty"`
}

func (r Result) Empty() bool {
	return r.URL == "" && r.Text == ""
}

// Handle identifies one in-flight job.
type Handle struct {
	Provider  string `json:"provider"`
	ID        string `json:"id"`
	StatusURL string `json:"status_url,omitempty"`
	ResultURL string `json:"result_url,omitempty"`
}

type Status struct {
	State  State
	Result Result
	Error  string
}

// Adapter talks to one provider API. Poll must be safe to repeat.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, model catalog.Model, input map[string]any) (Handle, error)
	Poll(ctx context.Context, model catalog.Model, h Handle) (Status, error)
}

// Router dispatches jobs to the adapter named by the model.
type Router struct {
	adapters map[string]Adapter
	metrics  *metrics.Metrics
}

func NewRouter(m *metrics.Metrics, adapters ...Adapter) *Router {
	r := &Router{adapters: make(map[string]Adapter, len(adapters)), metrics: m}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Router) Providers() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Supports(provider string) bool {
	_, ok := r.adapters[provider]
	return ok
}

func (r *Router) Submit(ctx context.Context, model catalog.Model, input map[string]any) (Handle, error) {
	a, ok := r.adapters[model.Provider]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %w %q", ErrSubmission, ErrUnknownProvider, model.Provider)
	}
	h, err := a.Submit(ctx, model, input)
	r.metrics.ProviderRequest(model.Provider, "submit", err)
	if err != nil {
		if !errors.Is(err, ErrSubmission) {
			err = fmt.Errorf("%w: %w", ErrSubmission, err)
		}
		return Handle{}, err
	}
	return h, nil
}

func (r *Router) Poll(ctx context.Context, model catalog.Model, h Handle) (Status, error) {
	a, ok := r.adapters[h.Provider]
	if !ok {
		return Status{}, fmt.Errorf("%w %q", ErrUnknownProvider, h.Provider)
	}
	st, err := a.Poll(ctx, model, h)
	r.metrics.ProviderRequest(h.Provider, "poll", err)
	return st, err
}
