package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const telegramSendInterval = 2 * time.Second

// Sender delivers a rendered notification to a user.
type Sender interface {
	Send(ctx context.Context, userID, message string) error
}

// LogSender writes notifications to the log. Used when Telegram is not
// configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, userID, message string) error {
	s.logger.Info("Notification", "user_id", userID, "message", message)
	return nil
}

// TelegramSender posts notifications to a single Telegram chat, prefixed
// with the user id. Sends are spaced to stay under the bot rate limit.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger

	mu       sync.Mutex
	lastSend time.Time
}

// NewTelegramSender returns nil if token is empty (Telegram disabled).
func NewTelegramSender(token string, chatID int64, logger *slog.Logger) (*TelegramSender, error) {
	if token == "" {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	bot.Debug = false
	logger.Info("Telegram sender ready", "bot", bot.Self.UserName, "chat_id", chatID)
	return &TelegramSender{bot: bot, chatID: chatID, logger: logger}, nil
}

func (s *TelegramSender) Send(ctx context.Context, userID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wait := telegramSendInterval - time.Since(s.lastSend); wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	msg := tgbotapi.NewMessage(s.chatID, fmt.Sprintf("[%s] %s", userID, message))
	_, err := s.bot.Send(msg)
	s.lastSend = time.Now()
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
