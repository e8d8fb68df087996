package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want Callback
		ok   bool
	}{
		{ModelData("kling-v2.1"), Callback{Kind: CallbackModel, Value: "kling-v2.1"}, true},
		{OptionData("sid", "16:9"), Callback{Kind: CallbackOption, SessionID: "sid", Value: "16:9"}, true},
		{ConfirmData("sid"), Callback{Kind: CallbackConfirm, SessionID: "sid"}, true},
		{TopUpData("300"), Callback{Kind: CallbackTopUp, Value: "300"}, true},
		{DataCancel, Callback{Kind: CallbackCancel}, true},
		{DataBuy, Callback{Kind: CallbackBuy}, true},
		{"opt:sid", Callback{}, false},
		{"confirm:", Callback{Kind: CallbackConfirm}, false},
		{"bogus", Callback{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.data, func(t *testing.T) {
			got, ok := ParseCallback(tt.data)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCallbackDataFitsTelegramLimit(t *testing.T) {
	data := OptionData("123e4567-e89b-12d3-a456-426614174000", "match_input_image")
	assert.LessOrEqual(t, len(data), 64)
}
