package notifier

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

// Notifier delivers a plain text message to the configured destination.
// A nil error means the destination accepted the message; nothing more is promised.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// New returns the Telegram notifier when a bot token is configured and a
// logging notifier otherwise
func New(cfg *config.TelegramConfig) Notifier {
	if cfg.Token == "" || cfg.ChatID == "" {
		logrus.Warn("Telegram token or chat id not configured, alerts will only be logged")
		return NewLogNotifier()
	}
	return NewTelegramNotifier(cfg)
}

// LogNotifier writes alerts to the log instead of delivering them
type LogNotifier struct{}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Send logs text at warning level
func (n *LogNotifier) Send(ctx context.Context, text string) error {
	logrus.Warnf("ALERT: %s", text)
	return nil
}
