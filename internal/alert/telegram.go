package alert

import (
	"fmt"
	"os"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink pushes alerts to a Telegram chat. Credentials come from
// TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID so the yaml config stays free
// of secrets.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramSink builds a Telegram-backed sink from the environment.
func NewTelegramSink() (*TelegramSink, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("TELEGRAM_CHAT_ID not set")
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSink{api: api, chatID: chatID}, nil
}

func (s *TelegramSink) Info(msg string) error {
	return s.sendMarkdown(msg)
}

func (s *TelegramSink) Warning(msg string) error {
	return s.sendMarkdown("*WARNING*: " + msg)
}

func (s *TelegramSink) Error(msg string) error {
	return s.sendMarkdown("*ERROR*: " + msg)
}

func (s *TelegramSink) sendMarkdown(text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
