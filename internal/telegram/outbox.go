package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/service"
	"github.com/digkill/MediaGenBot/internal/session"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

const maxMessageRunes = 4000

// Outbox renders session replies as Telegram messages.
type Outbox struct {
	api service.BotSender
	log *slog.Logger
}

func NewOutbox(api service.BotSender, log *slog.Logger) *Outbox {
	return &Outbox{api: api, log: log}
}

func (o *Outbox) Send(_ context.Context, chatID int64, r session.Reply) error {
	if r.Result != nil {
		return o.sendResult(chatID, r)
	}
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if len(r.Buttons) > 0 {
		msg.ReplyMarkup = inlineKeyboard(r.Buttons)
	}
	if _, err := o.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (o *Outbox) sendResult(chatID int64, r session.Reply) error {
	res := r.Result
	if r.Output == catalog.OutputText {
		for _, chunk := range splitText(res.Text, maxMessageRunes) {
			if _, err := o.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
				return fmt.Errorf("send text result: %w", err)
			}
		}
		return nil
	}

	file := tgbotapi.FileURL(res.URL)
	var c tgbotapi.Chattable
	switch r.Output {
	case catalog.OutputImage:
		photo := tgbotapi.NewPhoto(chatID, file)
		photo.Caption = r.Text
		c = photo
	case catalog.OutputVideo:
		video := tgbotapi.NewVideo(chatID, file)
		video.Caption = r.Text
		c = video
	case catalog.OutputAudio:
		audio := tgbotapi.NewAudio(chatID, file)
		audio.Caption = r.Text
		c = audio
	default:
		c = tgbotapi.NewDocument(chatID, file)
	}
	_, err := o.api.Send(c)
	if err == nil {
		return nil
	}
	o.log.Warn("send media result, falling back to link", "chat", chatID, "url", res.URL, sl.Err(err))

	// Telegram refuses some remote files (size, codec); the link still works.
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s\n%s", r.Text, res.URL))
	if _, err := o.api.Send(msg); err != nil {
		return fmt.Errorf("send result link: %w", err)
	}
	return nil
}

func inlineKeyboard(buttons [][]session.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, line := range buttons {
		row := make([]tgbotapi.InlineKeyboardButton, 0, len(line))
		for _, btn := range line {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		chunks = append(chunks, string(runes[:n]))
		runes = runes[n:]
	}
	return chunks
}
