package session

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/provider"
)

type State string

const (
	StateCollectingMedia      State = "collecting_media"
	StateCollectingChoice     State = "collecting_choice"
	StateCollectingPrompt     State = "collecting_prompt"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateSubmitting           State = "submitting"
	StatePolling              State = "polling"
)

// InFlight reports whether the user has already been charged for the session.
func (s State) InFlight() bool {
	return s == StateSubmitting || s == StatePolling
}

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeTimedOut Outcome = "timed_out"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonChargeFailed      Reason = "charge_failed"
	ReasonSubmissionFailed  Reason = "submission_failed"
	ReasonGenerationFailed  Reason = "generation_failed"
	ReasonTimedOut          Reason = "timed_out"
	ReasonUnavailable       Reason = "unavailable"
	ReasonInterrupted       Reason = "interrupted"
	ReasonInternal          Reason = "internal"
)

type Params struct {
	MediaURL string            `json:"media_url,omitempty"`
	Prompt   string            `json:"prompt,omitempty"`
	Choices  map[string]string `json:"choices,omitempty"`
}

// Session is the per-user generation flow. At most one exists per user.
type Session struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"user_id"`
	ChatID      int64            `json:"chat_id"`
	ModelID     string           `json:"model_id"`
	State       State            `json:"state"`
	ChoiceIndex int              `json:"choice_index"`
	Params      Params           `json:"params"`
	Price       decimal.Decimal  `json:"price"`
	Free        bool             `json:"free,omitempty"`
	Confirmed   bool             `json:"confirmed"`
	PaymentID   string           `json:"payment_id,omitempty"`
	Handle      *provider.Handle `json:"handle,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Params.Choices != nil {
		cp.Params.Choices = make(map[string]string, len(s.Params.Choices))
		for k, v := range s.Params.Choices {
			cp.Params.Choices[k] = v
		}
	}
	if s.Handle != nil {
		h := *s.Handle
		cp.Handle = &h
	}
	return &cp
}

// firstState is where a fresh session for model starts.
func firstState(model catalog.Model) State {
	switch {
	case model.Media != catalog.MediaNone:
		return StateCollectingMedia
	case len(model.Choices) > 0:
		return StateCollectingChoice
	default:
		return StateCollectingPrompt
	}
}

// advance moves s past its current input step.
func advance(s *Session, model catalog.Model) {
	switch s.State {
	case StateCollectingMedia:
		s.ChoiceIndex = 0
		if len(model.Choices) > 0 {
			s.State = StateCollectingChoice
		} else {
			s.State = StateCollectingPrompt
		}
	case StateCollectingChoice:
		s.ChoiceIndex++
		if s.ChoiceIndex >= len(model.Choices) {
			s.State = StateCollectingPrompt
		}
	case StateCollectingPrompt:
		s.State = StateAwaitingConfirmation
	}
}

type EventKind int

const (
	EventText EventKind = iota
	EventMedia
	EventChoice
	EventConfirm
)

type Media struct {
	Kind     catalog.MediaKind
	FileID   string
	MimeType string
	FileSize int
}

// Event is one user input routed to the active session. SessionID is set by
// inline buttons and must match the active session when present.
type Event struct {
	Kind      EventKind
	UserID    int64
	ChatID    int64
	SessionID string
	Text      string
	Token     string
	Media     *Media
}

type Button struct {
	Label string
	Data  string
}

// Reply is a message the engine asks the transport to deliver.
type Reply struct {
	Text    string
	Buttons [][]Button
	Result  *provider.Result
	Output  catalog.OutputKind
}
