package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/MediaGenBot/internal/config"
	"github.com/digkill/MediaGenBot/internal/models"
)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func paymentConfig() config.Config {
	return config.Config{
		PaymentProvider:       "telegram",
		PaymentCurrency:       "RUB",
		TopUpAmounts:          []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(300)},
		YooKassaWebhookSecret: "whsec",
		YooKassaShopID:        "shop",
		YooKassaSecretKey:     "key",
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRecordPaymentIdempotent(t *testing.T) {
	ledger := newMemLedger()
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)
	n := Notification{
		ExternalID: "X",
		UserID:     5,
		Amount:     decimal.NewFromInt(100),
		Status:     models.PaymentSucceeded,
		Source:     models.SourceYooKassa,
		Verified:   true,
	}

	credited, err := svc.RecordPayment(context.Background(), n)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = svc.RecordPayment(context.Background(), n)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.Equal(t, "100", ledger.balances[5].String())
	assert.Equal(t, 1, ledger.recordCount())
}

func TestRecordPaymentRejectsUnverified(t *testing.T) {
	ledger := new(mockLedger)
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)

	_, err := svc.RecordPayment(context.Background(), Notification{
		ExternalID: "forged",
		UserID:     5,
		Amount:     decimal.NewFromInt(1000000),
		Status:     models.PaymentSucceeded,
		Source:     models.SourceYooKassa,
	})
	require.ErrorIs(t, err, ErrUnverifiedPayment)
	ledger.AssertNotCalled(t, "Credit")
}

func webhookBody(t *testing.T, id, status, value string, userID string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"event": "payment." + status,
		"object": map[string]any{
			"id":       id,
			"status":   status,
			"amount":   map[string]string{"value": value, "currency": "RUB"},
			"metadata": map[string]string{"telegram_id": userID},
		},
	})
	require.NoError(t, err)
	return body
}

func TestYooKassaWebhookDeliveredTwice(t *testing.T) {
	ledger := newMemLedger()
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)
	body := webhookBody(t, "yk-1", "succeeded", "100.00", "42")
	sig := sign("whsec", body)

	credited, err := svc.HandleYooKassaWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = svc.HandleYooKassaWebhook(context.Background(), body, sig)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, ledger.balances[42].Equal(decimal.NewFromInt(100)))
}

func TestYooKassaWebhookBadSignature(t *testing.T) {
	ledger := newMemLedger()
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)
	body := webhookBody(t, "yk-1", "succeeded", "100.00", "42")

	_, err := svc.HandleYooKassaWebhook(context.Background(), body, sign("other", body))
	assert.ErrorIs(t, err, ErrUnverifiedPayment)
	_, err = svc.HandleYooKassaWebhook(context.Background(), body, "")
	assert.ErrorIs(t, err, ErrUnverifiedPayment)
	assert.Zero(t, ledger.recordCount())

	cfg := paymentConfig()
	cfg.YooKassaWebhookSecret = ""
	open := NewPaymentService(cfg, ledger, discardLogger(), nil)
	_, err = open.HandleYooKassaWebhook(context.Background(), body, sign("", body))
	assert.ErrorIs(t, err, ErrUnverifiedPayment)
}

func TestYooKassaWebhookPendingThenSucceeded(t *testing.T) {
	ledger := newMemLedger()
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)

	pending := webhookBody(t, "yk-2", "waiting_for_capture", "300.00", "42")
	credited, err := svc.HandleYooKassaWebhook(context.Background(), pending, sign("whsec", pending))
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, ledger.balances[42].IsZero())

	done := webhookBody(t, "yk-2", "succeeded", "300.00", "42")
	credited, err = svc.HandleYooKassaWebhook(context.Background(), done, sign("whsec", done))
	require.NoError(t, err)
	assert.True(t, credited)
	assert.True(t, ledger.balances[42].Equal(decimal.NewFromInt(300)))
}

func TestCreateYooKassaPaymentRecordsPending(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("Idempotence-Key"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "shop", user)
		assert.Equal(t, "key", pass)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"yk-9","status":"pending","confirmation":{"type":"redirect","confirmation_url":"https://pay.example/yk-9"}}`))
	}))
	defer srv.Close()

	cfg := paymentConfig()
	cfg.PaymentProvider = "yookassa"
	cfg.YooKassaAPIURL = srv.URL
	ledger := newMemLedger()
	svc := NewPaymentService(cfg, ledger, discardLogger(), nil)
	bot := &fakeBot{}

	err := svc.SendInvoice(context.Background(), bot, 42, 42, decimal.NewFromInt(300))
	require.NoError(t, err)
	require.Len(t, bot.sent, 1)
	assert.Equal(t, models.PaymentPending, ledger.records["yk-9"].Status)
	assert.True(t, ledger.balances[42].IsZero())
	assert.Equal(t, "42", got["metadata"].(map[string]any)["telegram_id"])
}

func TestSendInvoiceRejectsUnknownAmount(t *testing.T) {
	svc := NewPaymentService(paymentConfig(), newMemLedger(), discardLogger(), nil)
	err := svc.SendInvoice(context.Background(), &fakeBot{}, 1, 1, decimal.NewFromInt(7))
	assert.ErrorIs(t, err, ErrUnknownTopUp)
}

func TestTelegramInvoiceFlow(t *testing.T) {
	ledger := newMemLedger()
	svc := NewPaymentService(paymentConfig(), ledger, discardLogger(), nil)
	bot := &fakeBot{}

	require.NoError(t, svc.SendInvoice(context.Background(), bot, 42, 42, decimal.NewFromInt(100)))
	require.Len(t, bot.sent, 1)
	invoice, ok := bot.sent[0].(tgbotapi.InvoiceConfig)
	require.True(t, ok)
	assert.Equal(t, 10000, invoice.Prices[0].Amount)

	query := &tgbotapi.PreCheckoutQuery{
		ID:             "q1",
		From:           &tgbotapi.User{ID: 42},
		Currency:       "RUB",
		TotalAmount:    10000,
		InvoicePayload: invoice.Payload,
	}
	require.NoError(t, svc.HandlePreCheckout(bot, query))
	answer := bot.requests[0].(tgbotapi.PreCheckoutConfig)
	assert.True(t, answer.OK)

	query.TotalAmount = 1
	require.NoError(t, svc.HandlePreCheckout(bot, query))
	answer = bot.requests[1].(tgbotapi.PreCheckoutConfig)
	assert.False(t, answer.OK)

	payment := &tgbotapi.SuccessfulPayment{Currency: "RUB", TotalAmount: 10000, TelegramPaymentChargeID: "ch-1"}
	credited, err := svc.HandleSuccessfulPayment(context.Background(), 42, payment)
	require.NoError(t, err)
	assert.True(t, credited)
	credited, err = svc.HandleSuccessfulPayment(context.Background(), 42, payment)
	require.NoError(t, err)
	assert.False(t, credited)
	assert.True(t, ledger.balances[42].Equal(decimal.NewFromInt(100)))
}

func TestYooKassaWebhookMalformed(t *testing.T) {
	svc := NewPaymentService(paymentConfig(), newMemLedger(), discardLogger(), nil)
	body := webhookBody(t, "yk-3", "succeeded", "100.00", "not-a-number")

	_, err := svc.HandleYooKassaWebhook(context.Background(), body, sign("whsec", body))
	assert.ErrorIs(t, err, ErrBadWebhook)

	garbage := []byte("{")
	_, err = svc.HandleYooKassaWebhook(context.Background(), garbage, sign("whsec", garbage))
	assert.ErrorIs(t, err, ErrBadWebhook)
}
