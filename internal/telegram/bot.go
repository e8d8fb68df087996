package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/models"
	"github.com/digkill/MediaGenBot/internal/service"
	"github.com/digkill/MediaGenBot/internal/session"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

const menuButton = "🏠 Главное меню"

type botAPI interface {
	service.BotSender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetFileDirectURL(fileID string) (string, error)
}

type Sessions interface {
	Start(ctx context.Context, userID, chatID int64, modelID string) error
	Handle(ctx context.Context, ev session.Event) error
	Cancel(ctx context.Context, userID int64) (bool, error)
}

type Users interface {
	Ensure(ctx context.Context, userID int64, displayName string) (*models.User, bool, error)
	Balance(ctx context.Context, userID int64) (decimal.Decimal, int, error)
}

type Payments interface {
	TopUpAmounts() []decimal.Decimal
	SendInvoice(ctx context.Context, bot service.BotSender, userID, chatID int64, amount decimal.Decimal) error
	HandlePreCheckout(bot service.BotSender, query *tgbotapi.PreCheckoutQuery) error
	HandleSuccessfulPayment(ctx context.Context, userID int64, payment *tgbotapi.SuccessfulPayment) (bool, error)
}

type Bot struct {
	api      botAPI
	log      *slog.Logger
	catalog  *catalog.Catalog
	sessions Sessions
	users    Users
	payments Payments
	currency string
	wg       sync.WaitGroup
}

func NewBot(api botAPI, log *slog.Logger, cat *catalog.Catalog, sessions Sessions, users Users, payments Payments, currency string) *Bot {
	return &Bot{
		api:      api,
		log:      log.With("component", "telegram"),
		catalog:  cat,
		sessions: sessions,
		users:    users,
		payments: payments,
		currency: currency,
	}
}

// Run consumes updates until ctx is done. Every update is handled on its own
// goroutine; Run waits for in-flight handlers before returning.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	defer b.wg.Wait()
	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("update handler panic", "panic", r, "update", update.UpdateID)
		}
	}()

	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		if err := b.payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
			b.log.Error("pre-checkout failed", sl.Err(err))
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		b.log.Error("ensure user", "user", userID, sl.Err(err))
		b.sendText(chatID, "Сервис временно недоступен, попробуйте позже.")
		return
	}

	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	if strings.TrimSpace(msg.Text) == menuButton {
		b.returnToMenu(ctx, userID, chatID)
		return
	}

	ev := session.Event{Kind: session.EventText, UserID: userID, ChatID: chatID, Text: msg.Text}
	if media := mediaFromMessage(msg); media != nil {
		ev.Kind = session.EventMedia
		ev.Media = media
	}
	b.dispatch(ctx, ev)
}

func mediaFromMessage(msg *tgbotapi.Message) *session.Media {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return &session.Media{Kind: catalog.MediaImage, FileID: photo.FileID, MimeType: "image/jpeg", FileSize: photo.FileSize}
	case msg.Document != nil:
		m := &session.Media{FileID: msg.Document.FileID, MimeType: msg.Document.MimeType, FileSize: msg.Document.FileSize}
		if strings.HasPrefix(strings.ToLower(msg.Document.MimeType), "image/") {
			m.Kind = catalog.MediaImage
		}
		return m
	case msg.Video != nil, msg.Audio != nil, msg.Voice != nil, msg.Sticker != nil:
		// unsupported kinds still count as media so the session re-prompts
		return &session.Media{}
	}
	return nil
}

func (b *Bot) dispatch(ctx context.Context, ev session.Event) {
	err := b.sessions.Handle(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoSession):
		if ev.Kind == session.EventText || ev.Kind == session.EventMedia {
			b.sendMenu(ev.ChatID, "Выберите модель, чтобы начать генерацию.")
		} else {
			b.sendMenu(ev.ChatID, "Эта кнопка устарела. Выберите модель заново.")
		}
	default:
		b.log.Error("handle session event", "user", ev.UserID, sl.Err(err))
		b.sendText(ev.ChatID, "⚠️ Что-то пошло не так. Попробуйте позже.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		text := fmt.Sprintf("Привет, %s! Я генерирую изображения, видео, музыку и озвучку с помощью нейросетей.\n\n%s", displayName(msg.From), helpText)
		greeting := tgbotapi.NewMessage(chatID, text)
		keyboard := tgbotapi.NewReplyKeyboard(tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(menuButton)))
		keyboard.ResizeKeyboard = true
		greeting.ReplyMarkup = keyboard
		b.send(greeting)
		b.sendMenu(chatID, "Выберите модель:")
	case "generate":
		b.sendMenu(chatID, "Выберите модель:")
	case "main":
		b.returnToMenu(ctx, userID, chatID)
	case "cancel":
		cancelled, err := b.sessions.Cancel(ctx, userID)
		if err != nil {
			b.log.Error("cancel session", "user", userID, sl.Err(err))
			b.sendText(chatID, "Не удалось отменить, попробуйте позже.")
			return
		}
		if cancelled {
			b.sendMenu(chatID, "Отменено.")
		} else {
			b.sendText(chatID, "Нечего отменять.")
		}
	case "balance":
		b.handleBalance(ctx, userID, chatID)
	case "buy":
		b.sendTopUpMenu(chatID)
	case "help":
		b.sendText(chatID, helpText)
	default:
		b.sendText(chatID, "Неизвестная команда. Используйте /generate.")
	}
}

const helpText = "Команды:\n/generate — выбрать модель\n/balance — баланс\n/buy — пополнить баланс\n/cancel — отменить текущую генерацию\n/main — главное меню"

func (b *Bot) returnToMenu(ctx context.Context, userID, chatID int64) {
	if _, err := b.sessions.Cancel(ctx, userID); err != nil {
		b.log.Error("cancel session", "user", userID, sl.Err(err))
	}
	b.sendMenu(chatID, "Главное меню. Выберите модель:")
}

func (b *Bot) handleBalance(ctx context.Context, userID, chatID int64) {
	balance, free, err := b.users.Balance(ctx, userID)
	if err != nil {
		b.log.Error("balance", "user", userID, sl.Err(err))
		b.sendText(chatID, "Не удалось получить баланс, попробуйте позже.")
		return
	}
	text := fmt.Sprintf("💰 Баланс: %s %s", balance.StringFixed(2), b.currency)
	if free > 0 {
		text += fmt.Sprintf("\n🎁 Бесплатных генераций: %d", free)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("💳 Пополнить", session.DataBuy)),
	)
	b.send(msg)
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	credited, err := b.payments.HandleSuccessfulPayment(ctx, msg.From.ID, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "user", msg.From.ID, sl.Err(err))
		b.sendText(msg.Chat.ID, "Платёж получен, но не удалось зачислить средства. Мы разберёмся, напишите в поддержку.")
		return
	}
	if credited {
		b.sendText(msg.Chat.ID, "✅ Оплата получена, баланс пополнен.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warn("callback ack", sl.Err(err))
	}
	if cb.From == nil || cb.Message == nil {
		return
	}
	userID := cb.From.ID
	chatID := cb.Message.Chat.ID

	data, ok := session.ParseCallback(cb.Data)
	if !ok {
		b.log.Warn("unknown callback", "data", cb.Data)
		return
	}
	if _, err := b.ensureUser(ctx, cb.From); err != nil {
		b.log.Error("ensure user", "user", userID, sl.Err(err))
		return
	}

	switch data.Kind {
	case session.CallbackModel:
		err := b.sessions.Start(ctx, userID, chatID, data.Value)
		if err != nil && !errors.Is(err, session.ErrBusy) && !errors.Is(err, session.ErrUnknownModel) {
			b.log.Error("start session", "user", userID, "model", data.Value, sl.Err(err))
			b.sendText(chatID, "⚠️ Что-то пошло не так. Попробуйте позже.")
		}
	case session.CallbackOption:
		b.dispatch(ctx, session.Event{Kind: session.EventChoice, UserID: userID, ChatID: chatID, SessionID: data.SessionID, Token: data.Value})
	case session.CallbackConfirm:
		b.dispatch(ctx, session.Event{Kind: session.EventConfirm, UserID: userID, ChatID: chatID, SessionID: data.SessionID})
	case session.CallbackCancel:
		b.returnToMenu(ctx, userID, chatID)
	case session.CallbackBuy:
		b.sendTopUpMenu(chatID)
	case session.CallbackTopUp:
		b.handleTopUp(ctx, userID, chatID, data.Value)
	}
}

func (b *Bot) handleTopUp(ctx context.Context, userID, chatID int64, value string) {
	amount, err := decimal.NewFromString(value)
	if err != nil {
		b.sendText(chatID, "Неизвестная сумма пополнения.")
		return
	}
	if err := b.payments.SendInvoice(ctx, b.api, userID, chatID, amount); err != nil {
		if errors.Is(err, service.ErrUnknownTopUp) {
			b.sendText(chatID, "Неизвестная сумма пополнения.")
			return
		}
		b.log.Error("send invoice", "user", userID, "amount", value, sl.Err(err))
		b.sendText(chatID, "Не удалось выставить счёт. Попробуйте позже.")
	}
}

func (b *Bot) sendMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = modelKeyboard(b.catalog.Models())
	b.send(msg)
}

func modelKeyboard(list []catalog.Model) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, m := range list {
		title := m.Title
		if title == "" {
			title = m.ID
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(title, session.ModelData(m.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) sendTopUpMenu(chatID int64) {
	var row []tgbotapi.InlineKeyboardButton
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, amount := range b.payments.TopUpAmounts() {
		label := fmt.Sprintf("%s %s", amount.String(), b.currency)
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, session.TopUpData(amount.String())))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		b.sendText(chatID, "Пополнение сейчас недоступно.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "💳 Выберите сумму пополнения:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	b.send(msg)
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	user, created, err := b.users.Ensure(ctx, from.ID, displayName(from))
	if err != nil {
		return nil, err
	}
	if created {
		b.log.Info("new user", "user", from.ID)
	}
	return user, nil
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("send message", sl.Err(err))
	}
}
