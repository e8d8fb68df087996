package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/config"
	"github.com/digkill/MediaGenBot/internal/metrics"
	"github.com/digkill/MediaGenBot/internal/models"
)

var (
	ErrUnverifiedPayment = errors.New("payment notification is not verified")
	ErrUnknownTopUp      = errors.New("top-up amount is not offered")
	ErrBadWebhook        = errors.New("malformed payment webhook")
)

// Notification is a payment event from an external source. Verified must
// only be set after the source has been authenticated.
type Notification struct {
	ExternalID string
	UserID     int64
	Amount     decimal.Decimal
	Status     models.PaymentStatus
	Source     models.PaymentSource
	Verified   bool
}

// BotSender is the part of the Telegram client the payment flow needs.
type BotSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type PaymentService struct {
	cfg     config.Config
	ledger  Ledger
	log     *slog.Logger
	metrics *metrics.Metrics
	client  *http.Client
}

func NewPaymentService(cfg config.Config, ledger Ledger, log *slog.Logger, m *metrics.Metrics) *PaymentService {
	return &PaymentService{
		cfg:     cfg,
		ledger:  ledger,
		log:     log,
		metrics: m,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// RecordPayment credits the ledger idempotently by external id. Unverified
// notifications never reach the ledger.
func (s *PaymentService) RecordPayment(ctx context.Context, n Notification) (bool, error) {
	if !n.Verified {
		s.metrics.Payment(string(n.Source), "unverified")
		return false, ErrUnverifiedPayment
	}
	if !n.Status.Valid() {
		return false, fmt.Errorf("payment %s: unknown status %q", n.ExternalID, n.Status)
	}
	credited, err := s.ledger.Credit(ctx, n.UserID, n.Amount, n.ExternalID, n.Status, n.Source)
	if err != nil {
		s.metrics.Payment(string(n.Source), "error")
		return false, fmt.Errorf("credit payment %s: %w", n.ExternalID, err)
	}
	result := "duplicate"
	if credited {
		result = "credited"
	} else if n.Status != models.PaymentSucceeded {
		result = string(n.Status)
	}
	s.metrics.Payment(string(n.Source), result)
	s.log.Info("payment recorded",
		"payment_id", n.ExternalID,
		"user", n.UserID,
		"amount", n.Amount.StringFixed(2),
		"status", n.Status,
		"credited", credited,
	)
	return credited, nil
}

func (s *PaymentService) TopUpAmounts() []decimal.Decimal {
	return s.cfg.TopUpAmounts
}

func (s *PaymentService) offered(amount decimal.Decimal) bool {
	for _, a := range s.cfg.TopUpAmounts {
		if a.Equal(amount) {
			return true
		}
	}
	return false
}

// SendInvoice sends a payment link or invoice depending on the configured provider.
func (s *PaymentService) SendInvoice(ctx context.Context, bot BotSender, userID, chatID int64, amount decimal.Decimal) error {
	if !s.offered(amount) {
		return fmt.Errorf("%s: %w", amount, ErrUnknownTopUp)
	}

	switch s.cfg.PaymentProvider {
	case "telegram", "":
		return s.sendTelegramInvoice(bot, userID, chatID, amount)
	case "yookassa":
		return s.sendYooKassaPayment(ctx, bot, userID, chatID, amount)
	default:
		return fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

type invoicePayload struct {
	UserID int64  `json:"user_id"`
	Amount string `json:"amount"`
}

func minorUnits(amount decimal.Decimal) int {
	return int(amount.Shift(2).IntPart())
}

func (s *PaymentService) sendTelegramInvoice(bot BotSender, userID, chatID int64, amount decimal.Decimal) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  fmt.Sprintf("Пополнение на %s %s", amount.StringFixed(2), s.cfg.PaymentCurrency),
			Amount: minorUnits(amount),
		},
	}

	payload, _ := json.Marshal(invoicePayload{UserID: userID, Amount: amount.StringFixed(2)})

	invoice := tgbotapi.NewInvoice(chatID,
		"Пополнение баланса",
		fmt.Sprintf("Баланс будет пополнен на %s %s", amount.StringFixed(2), s.cfg.PaymentCurrency),
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"topup",
		s.cfg.PaymentCurrency,
		prices,
	)
	invoice.SuggestedTipAmounts = []int{}

	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

// HandlePreCheckout approves the checkout only for invoices this bot issued.
func (s *PaymentService) HandlePreCheckout(bot BotSender, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if err := s.checkInvoice(query.From, query.InvoicePayload, query.Currency, query.TotalAmount); err != nil {
		s.log.Warn("pre-checkout rejected", "query", query.ID, "err", err)
		response.OK = false
		response.ErrorMessage = "Платёж не может быть принят, попробуйте ещё раз."
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

func (s *PaymentService) checkInvoice(from *tgbotapi.User, rawPayload, currency string, total int) error {
	var payload invoicePayload
	if err := json.Unmarshal([]byte(rawPayload), &payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return fmt.Errorf("parse payload amount: %w", err)
	}
	if !s.offered(amount) {
		return ErrUnknownTopUp
	}
	if from != nil && from.ID != payload.UserID {
		return errors.New("payer does not match invoice owner")
	}
	if !strings.EqualFold(currency, s.cfg.PaymentCurrency) || total != minorUnits(amount) {
		return errors.New("amount or currency mismatch")
	}
	return nil
}

// HandleSuccessfulPayment credits a Telegram payment. Updates arrive over the
// authenticated Bot API connection, so the notification counts as verified.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, userID int64, payment *tgbotapi.SuccessfulPayment) (bool, error) {
	if payment == nil || payment.TelegramPaymentChargeID == "" {
		return false, errors.New("successful payment without charge id")
	}
	return s.RecordPayment(ctx, Notification{
		ExternalID: "tg:" + payment.TelegramPaymentChargeID,
		UserID:     userID,
		Amount:     decimal.New(int64(payment.TotalAmount), -2),
		Status:     models.PaymentSucceeded,
		Source:     models.SourceTelegram,
		Verified:   true,
	})
}

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type YooKassaPayment struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	Amount yooAmount `json:"amount"`
}

func (s *PaymentService) sendYooKassaPayment(ctx context.Context, bot BotSender, userID, chatID int64, amount decimal.Decimal) error {
	payment, err := s.CreateYooKassaPayment(ctx, userID, amount)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Оплата через ЮKassa\nСумма: %s %s\nСсылка на оплату: %s\nБаланс пополнится автоматически после оплаты.",
		amount.StringFixed(2), s.cfg.PaymentCurrency, payment.Confirmation.URL)

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send payment link: %w", err)
	}
	return nil
}

// CreateYooKassaPayment opens a redirect payment and records it as pending.
func (s *PaymentService) CreateYooKassaPayment(ctx context.Context, userID int64, amount decimal.Decimal) (*YooKassaPayment, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}

	returnURL := s.cfg.YooKassaReturnURL
	if returnURL == "" {
		returnURL = "https://t.me"
	}

	payload := map[string]any{
		"amount": yooAmount{
			Value:    amount.StringFixed(2),
			Currency: s.cfg.PaymentCurrency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": returnURL,
		},
		"description": fmt.Sprintf("Пополнение баланса на %s %s", amount.StringFixed(2), s.cfg.PaymentCurrency),
		"metadata": map[string]string{
			"telegram_id": strconv.FormatInt(userID, 10),
		},
	}

	body, _ := json.Marshal(payload)
	endpoint := strings.TrimRight(s.cfg.YooKassaAPIURL, "/") + "/payments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa create payment: status %d", resp.StatusCode)
	}

	var parsed YooKassaPayment
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" || parsed.Confirmation.URL == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing id or confirmation url)")
	}

	if _, err := s.ledger.Credit(ctx, userID, amount, parsed.ID, models.PaymentPending, models.SourceYooKassa); err != nil {
		return nil, fmt.Errorf("record pending payment: %w", err)
	}
	return &parsed, nil
}

type yooWebhook struct {
	Event  string `json:"event"`
	Object struct {
		ID       string            `json:"id"`
		Status   string            `json:"status"`
		Amount   yooAmount         `json:"amount"`
		Metadata map[string]string `json:"metadata"`
	} `json:"object"`
}

// VerifyYooKassaSignature checks the hex HMAC-SHA256 of body. An empty secret
// verifies nothing.
func (s *PaymentService) VerifyYooKassaSignature(body []byte, signature string) bool {
	secret := s.cfg.YooKassaWebhookSecret
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

// HandleYooKassaWebhook verifies and records a payment status update.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, body []byte, signature string) (bool, error) {
	if !s.VerifyYooKassaSignature(body, signature) {
		s.metrics.Payment(string(models.SourceYooKassa), "unverified")
		return false, ErrUnverifiedPayment
	}

	var evt yooWebhook
	if err := json.Unmarshal(body, &evt); err != nil {
		return false, fmt.Errorf("%w: %w", ErrBadWebhook, err)
	}
	if evt.Object.ID == "" {
		return false, fmt.Errorf("%w: missing payment id", ErrBadWebhook)
	}

	var status models.PaymentStatus
	switch evt.Object.Status {
	case "succeeded":
		status = models.PaymentSucceeded
	case "canceled":
		status = models.PaymentFailed
	case "pending", "waiting_for_capture":
		status = models.PaymentPending
	default:
		s.log.Info("ignored yookassa status", "payment_id", evt.Object.ID, "status", evt.Object.Status)
		return false, nil
	}

	userID, err := strconv.ParseInt(evt.Object.Metadata["telegram_id"], 10, 64)
	if err != nil {
		return false, fmt.Errorf("%w: payment %s telegram_id: %w", ErrBadWebhook, evt.Object.ID, err)
	}
	amount, err := decimal.NewFromString(evt.Object.Amount.Value)
	if err != nil {
		return false, fmt.Errorf("%w: payment %s amount: %w", ErrBadWebhook, evt.Object.ID, err)
	}

	return s.RecordPayment(ctx, Notification{
		ExternalID: evt.Object.ID,
		UserID:     userID,
		Amount:     amount,
		Status:     status,
		Source:     models.SourceYooKassa,
		Verified:   true,
	})
}
