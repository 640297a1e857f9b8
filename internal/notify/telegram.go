package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type TelegramSender struct {
	bot    *telego.Bot
	chatID int64
}

func NewTelegramSender(token string, chatID int64) (*TelegramSender, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("Не удалось создать telegram-бота: %w", err)
	}
	return &TelegramSender{bot: bot, chatID: chatID}, nil
}

func (t *TelegramSender) Send(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := t.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    tu.ID(t.chatID),
		Text:      renderHTML(ev),
		ParseMode: telego.ModeHTML,
	})
	if err != nil {
		return fmt.Errorf("Не удалось отправить сообщение в telegram: %w", err)
	}
	return nil
}

func (t *TelegramSender) Name() string { return "telegram" }

func renderHTML(ev Event) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(ev.Title))
	b.WriteString("</b>")
	if ev.Mint != "" {
		b.WriteString("\n<code>")
		b.WriteString(html.EscapeString(ev.Mint))
		b.WriteString("</code>")
	}
	for _, l := range ev.Lines {
		b.WriteByte('\n')
		b.WriteString(html.EscapeString(l))
	}
	return b.String()
}
