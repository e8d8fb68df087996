package session

import (
	"fmt"
	"strings"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/service"
)

const (
	msgUnavailable      = "⚠️ Эта модель сейчас недоступна. Выберите другую в главном меню."
	msgInProgress       = "⏳ Генерация уже идёт. Дождитесь результата или отмените её."
	msgWrongMedia       = "Нужен файл подходящего типа."
	msgMediaFailed      = "Не удалось обработать файл, попробуйте отправить его ещё раз."
	msgPickOption       = "Выберите один из вариантов на кнопках."
	msgPromptShort      = "Описание слишком короткое, нужно хотя бы %d символов."
	msgInsufficient     = "💰 Недостаточно средств.\nСтоимость: %s\nБаланс: %s\nНе хватает: %s"
	msgChargeFailed     = "❌ Не удалось списать средства: стоимость %s, баланс %s."
	msgInternal         = "⚠️ Что-то пошло не так. Попробуйте позже."
	msgSubmissionFailed = "❌ Сервис генерации не принял задачу. Если средства списаны, напишите в поддержку."
	msgStarted          = "🚀 Генерация запущена, пришлю результат, как только он будет готов."
	msgDone             = "✅ Готово!"
	msgTimedOut         = "⌛ Генерация заняла слишком много времени. Если средства списаны, напишите в поддержку."
	msgGenerationFailed = "❌ Генерация не удалась."
	msgInterrupted      = "⚠️ Генерация была прервана перезапуском бота. Если средства списаны, напишите в поддержку."

	defaultMediaPrompt = "📎 Пришлите изображение."
	buttonsPerRow      = 3
)

func cancelRow() [][]Button {
	return [][]Button{{{Label: "✖️ Отмена", Data: DataCancel}}}
}

// prompt renders the request for the input s is waiting on, with an optional
// hint about the rejected previous input.
func (e *Engine) prompt(s *Session, model catalog.Model, hint string) Reply {
	var text string
	var buttons [][]Button

	switch s.State {
	case StateCollectingMedia:
		text = model.MediaPrompt
		if text == "" {
			text = defaultMediaPrompt
		}
	case StateCollectingChoice:
		if s.ChoiceIndex < len(model.Choices) {
			choice := model.Choices[s.ChoiceIndex]
			text = choice.Prompt
			buttons = optionRows(s.ID, choice)
		}
	case StateCollectingPrompt:
		text = model.PromptText
		if text == "" {
			text = fmt.Sprintf("✍️ Опишите, что нужно сгенерировать (от %d символов).", model.MinPromptLen)
		}
	case StateAwaitingConfirmation:
		return e.confirmation(s, model, service.Quote{Price: s.Price, Free: s.Free})
	}

	if hint != "" {
		text = hint + "\n\n" + text
	}
	return Reply{Text: text, Buttons: append(buttons, cancelRow()...)}
}

func optionRows(sessionID string, choice catalog.Choice) [][]Button {
	var rows [][]Button
	var row []Button
	for _, opt := range choice.Options {
		row = append(row, Button{Label: opt.Label, Data: OptionData(sessionID, opt.Token)})
		if len(row) == buttonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func (e *Engine) confirmation(s *Session, model catalog.Model, q service.Quote) Reply {
	var b strings.Builder
	title := model.Title
	if title == "" {
		title = model.ID
	}
	fmt.Fprintf(&b, "🧾 Модель: %s\n", title)
	for _, choice := range model.Choices {
		token, ok := s.Params.Choices[choice.Key]
		if !ok {
			continue
		}
		if opt, ok := choice.Option(token); ok {
			fmt.Fprintf(&b, "• %s: %s\n", choice.Key, opt.Label)
		}
	}
	if q.Free {
		b.WriteString("Стоимость: бесплатная генерация\n")
	} else {
		fmt.Fprintf(&b, "Стоимость: %s\n", e.money(q.Price))
		if !q.Balance.IsZero() {
			fmt.Fprintf(&b, "Баланс: %s\n", e.money(q.Balance))
		}
	}
	b.WriteString("\nЗапустить генерацию?")

	return Reply{
		Text: b.String(),
		Buttons: [][]Button{
			{{Label: "✅ Подтвердить", Data: ConfirmData(s.ID)}},
			{{Label: "✖️ Отмена", Data: DataCancel}},
		},
	}
}
