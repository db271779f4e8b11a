package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/tp-watchdog/pkg/config"
)

func TestTelegramSend(t *testing.T) {
	var got sendMessageRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/botsecret/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{Token: "secret", ChatID: "42", BaseURL: server.URL})
	require.NoError(t, n.Send(context.Background(), "🔴 Energy::PLC1 is not responding"))

	assert.Equal(t, "42", got.ChatID)
	assert.Equal(t, "🔴 Energy::PLC1 is not responding", got.Text)
}

func TestTelegramSendRejected(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	defer server.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{Token: "secret", ChatID: "missing", BaseURL: server.URL})
	err := n.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "client errors are not retried")
}

func TestTelegramSendTransportErrorHidesToken(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	n := NewTelegramNotifier(&config.TelegramConfig{Token: "123456:SECRET-TOKEN", ChatID: "42", BaseURL: baseURL})
	n.httpClient.SetRetryCount(0)

	err := n.Send(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to call Telegram API")
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
}

func TestRedact(t *testing.T) {
	assert.Equal(t, `Post "http://x/bot***/sendMessage"`, redact(`Post "http://x/bot123:abc/sendMessage"`, "123:abc"))
	assert.Equal(t, "unchanged", redact("unchanged", ""))
}

func TestNewSelectsLogNotifierWithoutToken(t *testing.T) {
	n := New(&config.TelegramConfig{})
	_, ok := n.(*LogNotifier)
	assert.True(t, ok)
	assert.NoError(t, n.Send(context.Background(), "hello"))

	n = New(&config.TelegramConfig{Token: "t", ChatID: "c", BaseURL: "http://localhost"})
	_, ok = n.(*TelegramNotifier)
	assert.True(t, ok)
}
