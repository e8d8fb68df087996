package session

import "strings"

const (
	DataCancel = "cancel"
	DataBuy    = "buy"

	prefixModel   = "model"
	prefixOption  = "opt"
	prefixConfirm = "confirm"
	prefixTopUp   = "topup"
)

type CallbackKind int

const (
	CallbackUnknown CallbackKind = iota
	CallbackModel
	CallbackOption
	CallbackConfirm
	CallbackCancel
	CallbackBuy
	CallbackTopUp
)

// Callback is decoded inline-button data.
type Callback struct {
	Kind      CallbackKind
	SessionID string
	Value     string
}

func ModelData(modelID string) string { return prefixModel + ":" + modelID }

func OptionData(sessionID, token string) string {
	return prefixOption + ":" + sessionID + ":" + token
}

func ConfirmData(sessionID string) string { return prefixConfirm + ":" + sessionID }

func TopUpData(amount string) string { return prefixTopUp + ":" + amount }

// ParseCallback decodes data produced by the *Data helpers. Option tokens may
// themselves contain colons (aspect ratios), so only the first two separators
// are significant.
func ParseCallback(data string) (Callback, bool) {
	switch data {
	case DataCancel:
		return Callback{Kind: CallbackCancel}, true
	case DataBuy:
		return Callback{Kind: CallbackBuy}, true
	}

	parts := strings.SplitN(data, ":", 3)
	switch {
	case parts[0] == prefixModel && len(parts) >= 2:
		return Callback{Kind: CallbackModel, Value: strings.Join(parts[1:], ":")}, parts[1] != ""
	case parts[0] == prefixOption && len(parts) == 3:
		return Callback{Kind: CallbackOption, SessionID: parts[1], Value: parts[2]}, parts[2] != ""
	case parts[0] == prefixConfirm && len(parts) == 2:
		return Callback{Kind: CallbackConfirm, SessionID: parts[1]}, parts[1] != ""
	case parts[0] == prefixTopUp && len(parts) == 2:
		return Callback{Kind: CallbackTopUp, Value: parts[1]}, parts[1] != ""
	}
	return Callback{}, false
}
