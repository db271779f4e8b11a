package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

// TelegramNotifier sends alerts through the Telegram Bot API sendMessage method
type TelegramNotifier struct {
	httpClient *resty.Client
	token      string
	chatID     string
}

var _ Notifier = (*TelegramNotifier)(nil)

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// NewTelegramNotifier creates a Telegram notifier from cfg
func NewTelegramNotifier(cfg *config.TelegramConfig) *TelegramNotifier {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetLogger(&redactingLogger{secret: cfg.Token}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// A 4xx other than 429 is final.
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &TelegramNotifier{
		httpClient: client,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
	}
}

// Send posts text to the configured chat
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	var result sendMessageResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetPathParam("token", n.token).
		SetBody(sendMessageRequest{ChatID: n.chatID, Text: text}).
		SetResult(&result).
		SetError(&result).
		Post("/bot{token}/sendMessage")
	if err != nil {
		// The request URL carries the bot token and must not reach logs or the journal.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("failed to call Telegram API: %s: %w", urlErr.Op, urlErr.Err)
		}
		return fmt.Errorf("failed to call Telegram API: %s", redact(err.Error(), n.token))
	}

	if resp.IsError() || !result.OK {
		logrus.Errorf("Telegram API returned status %d: %s", resp.StatusCode(), result.Description)
		return fmt.Errorf("telegram API error: %s (status: %d)", result.Description, resp.StatusCode())
	}

	logrus.Debugf("Delivered Telegram message to chat %s", n.chatID)
	return nil
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "***")
}

// redactingLogger routes resty's own log lines through logrus with the token masked
type redactingLogger struct {
	secret string
}

func (l *redactingLogger) Errorf(format string, v ...interface{}) {
	logrus.Error(redact(fmt.Sprintf(format, v...), l.secret))
}

func (l *redactingLogger) Warnf(format string, v ...interface{}) {
	logrus.Warn(redact(fmt.Sprintf(format, v...), l.secret))
}

func (l *redactingLogger) Debugf(format string, v ...interface{}) {
	logrus.Debug(redact(fmt.Sprintf(format, v...), l.secret))
}
