package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/provider"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

var errStillPending = errors.New("job still pending")

func (e *Engine) pollPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.PollInterval
	b.MaxInterval = e.cfg.PollMaxInterval
	b.MaxElapsedTime = e.cfg.PollTimeout
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.2

	var policy backoff.BackOff = b
	if e.cfg.PollMaxAttempts > 0 {
		policy = backoff.WithMaxRetries(b, uint64(e.cfg.PollMaxAttempts-1))
	}
	return backoff.WithContext(policy, ctx)
}

// poll waits for h to reach a terminal state. Transport errors count as
// attempts and are retried. Exhausting the attempt or elapsed-time budget
// yields ErrPollTimeout.
func (e *Engine) poll(ctx context.Context, model catalog.Model, h provider.Handle) (provider.Status, int, error) {
	timer := time.NewTimer(e.cfg.PollInterval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return provider.Status{}, 0, ctx.Err()
	case <-timer.C:
	}

	var (
		final    provider.Status
		attempts int
	)
	op := func() error {
		attempts++
		st, err := e.jobs.Poll(ctx, model, h)
		if err != nil {
			e.log.Warn("poll failed", "provider", h.Provider, "job", h.ID, "attempt", attempts, sl.Err(err))
			return err
		}
		if !st.State.Terminal() {
			return errStillPending
		}
		final = st
		return nil
	}

	if err := backoff.Retry(op, e.pollPolicy(ctx)); err != nil {
		if ctx.Err() != nil {
			return provider.Status{}, attempts, ctx.Err()
		}
		return provider.Status{}, attempts, fmt.Errorf("%w after %d attempts: %w", ErrPollTimeout, attempts, err)
	}
	return final, attempts, nil
}
