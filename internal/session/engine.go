package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/metrics"
	"github.com/digkill/MediaGenBot/internal/provider"
	"github.com/digkill/MediaGenBot/internal/service"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

var (
	ErrNoSession    = errors.New("no active session")
	ErrUnknownModel = errors.New("unknown model")
	ErrBusy         = errors.New("generation already in progress")
	ErrPollTimeout  = errors.New("job polling exceeded its budget")
)

type Charger interface {
	Quote(ctx context.Context, userID int64, model catalog.Model, choices map[string]string) (service.Quote, error)
	AuthorizeAndCharge(ctx context.Context, userID int64, model catalog.Model, choices map[string]string) (service.Receipt, error)
}

type JobClient interface {
	Submit(ctx context.Context, model catalog.Model, input map[string]any) (provider.Handle, error)
	Poll(ctx context.Context, model catalog.Model, h provider.Handle) (provider.Status, error)
}

type Outbox interface {
	Send(ctx context.Context, chatID int64, r Reply) error
}

// MediaResolver turns an uploaded file into a URL a provider can fetch.
type MediaResolver interface {
	Resolve(ctx context.Context, userID int64, m Media) (string, error)
}

type Config struct {
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	PollTimeout     time.Duration
	PollMaxAttempts int
	SubmitTimeout   time.Duration
	Currency        string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.PollMaxInterval < c.PollInterval {
		c.PollMaxInterval = c.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 10 * time.Minute
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = time.Minute
	}
	if c.Currency == "" {
		c.Currency = "₽"
	}
	return c
}

type Deps struct {
	Catalog *catalog.Catalog
	Store   Store
	Charger Charger
	Jobs    JobClient
	Outbox  Outbox
	Media   MediaResolver
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Config  Config
}

type poller struct {
	sessionID string
	cancel    context.CancelFunc
}

// Engine drives generation sessions. Input handling for one user is
// serialized by a per-user lock; job polling runs outside of it.
type Engine struct {
	catalog *catalog.Catalog
	store   Store
	charger Charger
	jobs    JobClient
	outbox  Outbox
	media   MediaResolver
	log     *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	pollMu  sync.Mutex
	pollers map[int64]*poller

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	now   func() time.Time
	newID func() string
}

func New(d Deps) *Engine {
	ctx, stop := context.WithCancel(context.Background())
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		catalog: d.Catalog,
		store:   d.Store,
		charger: d.Charger,
		jobs:    d.Jobs,
		outbox:  d.Outbox,
		media:   d.Media,
		log:     log.With("component", "session"),
		metrics: d.Metrics,
		cfg:     d.Config.withDefaults(),
		locks:   make(map[int64]*sync.Mutex),
		pollers: make(map[int64]*poller),
		baseCtx: ctx,
		stop:    stop,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (e *Engine) lock(userID int64) func() {
	e.mu.Lock()
	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Start opens a new session for modelID, replacing any idle one. A user with
// a job in flight has to wait for it or cancel first.
func (e *Engine) Start(ctx context.Context, userID, chatID int64, modelID string) error {
	unlock := e.lock(userID)
	defer unlock()

	model, ok := e.catalog.Get(modelID)
	if !ok {
		e.send(ctx, chatID, Reply{Text: msgUnavailable})
		return fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}

	existing, err := e.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("session.Start: %w", err)
	}
	if existing != nil && existing.State.InFlight() {
		if e.hasPoller(userID, existing.ID) {
			e.send(ctx, chatID, Reply{Text: msgInProgress, Buttons: cancelRow()})
			return ErrBusy
		}
		e.interrupt(ctx, existing)
	}

	now := e.now()
	s := &Session{
		ID:        e.newID(),
		UserID:    userID,
		ChatID:    chatID,
		ModelID:   model.ID,
		State:     firstState(model),
		Params:    Params{Choices: map[string]string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.put(ctx, s); err != nil {
		return err
	}
	e.metrics.SessionStarted(model.ID)
	e.log.Info("session started", "user", userID, "model", model.ID, "session", s.ID)
	e.send(ctx, chatID, e.prompt(s, model, ""))
	return nil
}

// Handle routes one input event to the user's session. It returns
// ErrNoSession when there is nothing to route to.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	unlock := e.lock(ev.UserID)
	defer unlock()

	s, err := e.store.Get(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("session.Handle: %w", err)
	}
	if s == nil {
		return ErrNoSession
	}
	if ev.SessionID != "" && ev.SessionID != s.ID {
		e.log.Debug("stale event ignored", "user", ev.UserID, "session", s.ID, "event_session", ev.SessionID)
		return nil
	}

	model, ok := e.catalog.Get(s.ModelID)
	if !ok {
		e.terminate(ctx, s, OutcomeFailure, ReasonUnavailable, Reply{Text: msgUnavailable})
		return nil
	}

	if s.State.InFlight() {
		if s.State == StatePolling && e.hasPoller(s.UserID, s.ID) {
			if ev.Kind != EventConfirm {
				e.send(ctx, s.ChatID, Reply{Text: msgInProgress, Buttons: cancelRow()})
			}
			return nil
		}
		e.interrupt(ctx, s)
		return nil
	}

	switch s.State {
	case StateCollectingMedia:
		return e.collectMedia(ctx, s, model, ev)
	case StateCollectingChoice:
		return e.collectChoice(ctx, s, model, ev)
	case StateCollectingPrompt:
		return e.collectPrompt(ctx, s, model, ev)
	case StateAwaitingConfirmation:
		if ev.Kind != EventConfirm {
			e.send(ctx, s.ChatID, e.prompt(s, model, ""))
			return nil
		}
		return e.confirm(ctx, s, model)
	}
	return fmt.Errorf("session.Handle: unexpected state %q", s.State)
}

// Cancel clears the user's session. A running poll is stopped and its job
// abandoned. It reports whether there was anything to cancel.
func (e *Engine) Cancel(ctx context.Context, userID int64) (bool, error) {
	unlock := e.lock(userID)
	defer unlock()

	e.stopPoller(userID, "")
	s, err := e.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("session.Cancel: %w", err)
	}
	if s == nil {
		return false, nil
	}
	if err := e.store.Delete(ctx, userID); err != nil {
		return false, fmt.Errorf("session.Cancel: %w", err)
	}
	e.metrics.SessionOutcome(s.ModelID, "cancelled", string(s.State))
	e.log.Info("session cancelled", "user", userID, "session", s.ID, "state", s.State, "payment_id", s.PaymentID)
	return true, nil
}

// Shutdown stops all pollers and waits for them to return. With a durable
// store the polling sessions stay and are reported as interrupted on the
// user's next input. Otherwise they would vanish with the process, so their
// users are told now.
func (e *Engine) Shutdown() {
	e.pollMu.Lock()
	live := make(map[int64]string, len(e.pollers))
	for userID, p := range e.pollers {
		live[userID] = p.sessionID
	}
	e.pollMu.Unlock()

	e.stop()
	e.wg.Wait()

	if isDurable(e.store) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()
	for userID, sessionID := range live {
		e.abandon(ctx, userID, sessionID)
	}
}

func (e *Engine) abandon(ctx context.Context, userID int64, sessionID string) {
	unlock := e.lock(userID)
	defer unlock()
	e.stopPoller(userID, sessionID)

	s, err := e.store.Get(ctx, userID)
	if err != nil {
		e.log.Error("load session at shutdown", "user", userID, sl.Err(err))
		return
	}
	if s == nil || s.ID != sessionID || !s.State.InFlight() {
		return
	}
	e.log.Warn("generation abandoned at shutdown", "user", userID, "session", s.ID, "payment_id", s.PaymentID)
	e.terminate(ctx, s, OutcomeFailure, ReasonInterrupted, Reply{Text: msgInterrupted})
}

func (e *Engine) collectMedia(ctx context.Context, s *Session, model catalog.Model, ev Event) error {
	if ev.Kind != EventMedia || ev.Media == nil || ev.Media.Kind != model.Media {
		e.send(ctx, s.ChatID, e.prompt(s, model, msgWrongMedia))
		return nil
	}
	ref, err := e.media.Resolve(ctx, s.UserID, *ev.Media)
	if err != nil {
		e.log.Warn("media resolve failed", "user", s.UserID, "file_id", ev.Media.FileID, sl.Err(err))
		e.send(ctx, s.ChatID, e.prompt(s, model, msgMediaFailed))
		return nil
	}
	s.Params.MediaURL = ref
	advance(s, model)
	return e.step(ctx, s, model)
}

func (e *Engine) collectChoice(ctx context.Context, s *Session, model catalog.Model, ev Event) error {
	if s.ChoiceIndex < 0 || s.ChoiceIndex >= len(model.Choices) {
		e.terminate(ctx, s, OutcomeFailure, ReasonUnavailable, Reply{Text: msgUnavailable})
		return nil
	}
	choice := model.Choices[s.ChoiceIndex]

	var (
		opt catalog.Option
		ok  bool
	)
	switch ev.Kind {
	case EventChoice:
		opt, ok = choice.Option(ev.Token)
	case EventText:
		opt, ok = matchOption(choice, ev.Text)
	}
	if !ok {
		e.send(ctx, s.ChatID, e.prompt(s, model, msgPickOption))
		return nil
	}

	if s.Params.Choices == nil {
		s.Params.Choices = map[string]string{}
	}
	s.Params.Choices[choice.Key] = opt.Token
	advance(s, model)
	return e.step(ctx, s, model)
}

func (e *Engine) collectPrompt(ctx context.Context, s *Session, model catalog.Model, ev Event) error {
	text := strings.TrimSpace(ev.Text)
	if ev.Kind != EventText || text == "" {
		e.send(ctx, s.ChatID, e.prompt(s, model, ""))
		return nil
	}
	if utf8.RuneCountInString(text) < model.MinPromptLen {
		e.send(ctx, s.ChatID, e.prompt(s, model, fmt.Sprintf(msgPromptShort, model.MinPromptLen)))
		return nil
	}
	s.Params.Prompt = text
	advance(s, model)
	return e.step(ctx, s, model)
}

// step persists s after a transition and sends the prompt for its new state.
func (e *Engine) step(ctx context.Context, s *Session, model catalog.Model) error {
	if s.State == StateAwaitingConfirmation {
		return e.enterConfirmation(ctx, s, model)
	}
	if err := e.put(ctx, s); err != nil {
		return err
	}
	e.send(ctx, s.ChatID, e.prompt(s, model, ""))
	return nil
}

func (e *Engine) enterConfirmation(ctx context.Context, s *Session, model catalog.Model) error {
	q, err := e.charger.Quote(ctx, s.UserID, model, s.Params.Choices)
	if err != nil {
		e.log.Error("quote failed", "user", s.UserID, "model", model.ID, "choices", s.Params.Choices, sl.Err(err))
		e.terminate(ctx, s, OutcomeFailure, ReasonInternal, Reply{Text: msgInternal})
		return nil
	}
	if !q.Sufficient() {
		e.terminate(ctx, s, OutcomeFailure, ReasonInsufficientFunds, Reply{
			Text: fmt.Sprintf(msgInsufficient,
				e.money(q.Price), e.money(q.Balance), e.money(q.Shortfall)),
			Buttons: [][]Button{{{Label: "💳 Пополнить баланс", Data: DataBuy}}},
		})
		return nil
	}

	s.Price = q.Price
	s.Free = q.Free
	s.State = StateAwaitingConfirmation
	if err := e.put(ctx, s); err != nil {
		return err
	}
	e.send(ctx, s.ChatID, e.confirmation(s, model, q))
	return nil
}

func (e *Engine) confirm(ctx context.Context, s *Session, model catalog.Model) error {
	if s.Confirmed {
		return nil
	}
	s.Confirmed = true
	s.State = StateSubmitting
	if err := e.put(ctx, s); err != nil {
		return err
	}

	receipt, err := e.charger.AuthorizeAndCharge(ctx, s.UserID, model, s.Params.Choices)
	if err != nil {
		var insufficient *service.InsufficientFundsError
		if errors.As(err, &insufficient) {
			e.terminate(ctx, s, OutcomeFailure, ReasonChargeFailed, Reply{
				Text:    fmt.Sprintf(msgChargeFailed, e.money(insufficient.Price), e.money(insufficient.Balance)),
				Buttons: [][]Button{{{Label: "💳 Пополнить баланс", Data: DataBuy}}},
			})
			return nil
		}
		e.log.Error("charge failed", "user", s.UserID, "model", model.ID, sl.Err(err))
		e.terminate(ctx, s, OutcomeFailure, ReasonChargeFailed, Reply{Text: msgInternal})
		return nil
	}
	s.PaymentID = receipt.PaymentID
	s.Free = receipt.Free

	input, err := provider.BuildInput(model, s.Params.Prompt, s.Params.MediaURL, s.Params.Choices)
	var h provider.Handle
	if err == nil {
		subCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
		h, err = e.jobs.Submit(subCtx, model, input)
		cancel()
	}
	if err != nil {
		e.log.Error("charged generation was not submitted",
			"user", s.UserID,
			"model", model.ID,
			"payment_id", receipt.PaymentID,
			"amount", receipt.Amount.String(),
			"free", receipt.Free,
			sl.Err(err),
		)
		if !receipt.Free {
			e.metrics.ChargedUndelivered(model.ID)
		}
		e.terminate(ctx, s, OutcomeFailure, ReasonSubmissionFailed, Reply{Text: msgSubmissionFailed})
		return nil
	}

	s.Handle = &h
	s.State = StatePolling
	if err := e.put(ctx, s); err != nil {
		e.log.Error("persist polling session", "user", s.UserID, "job", h.ID, sl.Err(err))
	}
	e.log.Info("job submitted", "user", s.UserID, "model", model.ID, "provider", h.Provider, "job", h.ID, "payment_id", s.PaymentID)
	e.send(ctx, s.ChatID, Reply{Text: msgStarted, Buttons: cancelRow()})
	e.startPoll(s.clone(), model)
	return nil
}

func (e *Engine) startPoll(s *Session, model catalog.Model) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.pollMu.Lock()
	if prev, ok := e.pollers[s.UserID]; ok {
		prev.cancel()
	}
	e.pollers[s.UserID] = &poller{sessionID: s.ID, cancel: cancel}
	e.pollMu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		started := e.now()
		status, attempts, err := e.poll(ctx, model, *s.Handle)
		if ctx.Err() != nil {
			return
		}
		e.finish(s, model, status, err, attempts, e.now().Sub(started))
	}()
}

// finish delivers the job outcome if s is still the user's live session.
func (e *Engine) finish(snap *Session, model catalog.Model, status provider.Status, pollErr error, attempts int, elapsed time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(e.baseCtx), e.cfg.SubmitTimeout)
	defer cancel()

	unlock := e.lock(snap.UserID)
	defer unlock()
	e.stopPoller(snap.UserID, snap.ID)

	s, err := e.store.Get(ctx, snap.UserID)
	if err != nil {
		e.log.Error("load session for delivery", "user", snap.UserID, sl.Err(err))
		s = snap
	}
	if s == nil || s.ID != snap.ID || !s.State.InFlight() {
		e.log.Info("job outcome dropped", "user", snap.UserID, "session", snap.ID, "job", snap.Handle.ID)
		return
	}

	switch {
	case pollErr != nil:
		e.metrics.JobFinished(model.Provider, "timed_out", elapsed, attempts)
		e.log.Warn("job timed out", "user", s.UserID, "job", snap.Handle.ID, "attempts", attempts, "payment_id", s.PaymentID, sl.Err(pollErr))
		e.terminate(ctx, s, OutcomeTimedOut, ReasonTimedOut, Reply{Text: msgTimedOut})
	case status.State == provider.StateSucceeded:
		e.metrics.JobFinished(model.Provider, string(status.State), elapsed, attempts)
		result := status.Result
		if err := e.outbox.Send(ctx, s.ChatID, Reply{Text: msgDone, Result: &result, Output: model.Output}); err != nil {
			e.log.Error("deliver result", "user", s.UserID, "job", snap.Handle.ID, "url", result.URL, sl.Err(err))
		}
		e.finalize(ctx, s, OutcomeSuccess, ReasonNone)
	default:
		e.metrics.JobFinished(model.Provider, string(status.State), elapsed, attempts)
		e.log.Warn("job failed", "user", s.UserID, "job", snap.Handle.ID, "state", status.State, "error", status.Error, "payment_id", s.PaymentID)
		e.terminate(ctx, s, OutcomeFailure, ReasonGenerationFailed, Reply{Text: msgGenerationFailed})
	}
}

func (e *Engine) interrupt(ctx context.Context, s *Session) {
	e.log.Warn("in-flight session without poller", "user", s.UserID, "session", s.ID, "state", s.State, "payment_id", s.PaymentID)
	e.terminate(ctx, s, OutcomeFailure, ReasonInterrupted, Reply{Text: msgInterrupted})
}

func (e *Engine) terminate(ctx context.Context, s *Session, outcome Outcome, reason Reason, r Reply) {
	e.send(ctx, s.ChatID, r)
	e.finalize(ctx, s, outcome, reason)
}

func (e *Engine) finalize(ctx context.Context, s *Session, outcome Outcome, reason Reason) {
	if err := e.store.Delete(ctx, s.UserID); err != nil {
		e.log.Error("delete session", "user", s.UserID, "session", s.ID, sl.Err(err))
	}
	e.metrics.SessionOutcome(s.ModelID, string(outcome), string(reason))
	e.log.Info("session finished", "user", s.UserID, "session", s.ID, "model", s.ModelID, "outcome", outcome, "reason", reason)
}

func (e *Engine) put(ctx context.Context, s *Session) error {
	s.UpdatedAt = e.now()
	if err := e.store.Put(ctx, s); err != nil {
		return fmt.Errorf("session.put: %w", err)
	}
	return nil
}

func (e *Engine) send(ctx context.Context, chatID int64, r Reply) {
	if err := e.outbox.Send(ctx, chatID, r); err != nil {
		e.log.Warn("send reply", "chat", chatID, sl.Err(err))
	}
}

func (e *Engine) hasPoller(userID int64, sessionID string) bool {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	p, ok := e.pollers[userID]
	return ok && p.sessionID == sessionID
}

// stopPoller cancels the user's poller. With a non-empty sessionID only a
// poller for that session is touched.
func (e *Engine) stopPoller(userID int64, sessionID string) {
	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	p, ok := e.pollers[userID]
	if !ok || (sessionID != "" && p.sessionID != sessionID) {
		return
	}
	p.cancel()
	delete(e.pollers, userID)
}

func (e *Engine) money(d decimal.Decimal) string {
	return d.StringFixed(2) + " " + e.cfg.Currency
}

func matchOption(choice catalog.Choice, text string) (catalog.Option, bool) {
	text = strings.TrimSpace(text)
	for _, opt := range choice.Options {
		if strings.EqualFold(opt.Token, text) || strings.EqualFold(opt.Label, text) {
			return opt, true
		}
	}
	return catalog.Option{}, false
}
