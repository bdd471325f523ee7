package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig configures the send-only Telegram transport.
type TelegramConfig struct {
	Token  string
	ChatID int64
}

type telegramSender struct {
	bot  *tele.Bot
	chat tele.ChatID
}

// NewTelegramSender builds a send-only Telegram client. No poller is
// attached; the bot is used purely as an outbound transport.
func NewTelegramSender(cfg TelegramConfig) (Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: 15 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &telegramSender{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

func (t *telegramSender) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{DisableWebPagePreview: true})
	return err
}
