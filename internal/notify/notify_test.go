package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/pricealertbot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name  string
	err   error
	calls []string
}

func (r *recordingSender) Send(ctx context.Context, recipient, message string) error {
	r.calls = append(r.calls, recipient+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func TestNotifierImplementsSink(t *testing.T) {
	var _ domain.NotificationSink = (*Notifier)(nil)
}

func TestNotifierDispatchesToAllSenders(t *testing.T) {
	a := &recordingSender{name: "a", err: errors.New("boom")}
	b := &recordingSender{name: "b"}
	n := NewNotifier([]Sender{a, b}, nil, quietLogger())

	err := n.Send(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSend)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, []string{"42|hello"}, a.calls)
	assert.Equal(t, []string{"42|hello"}, b.calls)
}

func TestNotifierEventFilter(t *testing.T) {
	s := &recordingSender{name: "s"}
	n := NewNotifier([]Sender{s}, []string{EventAlert}, quietLogger())

	require.NoError(t, n.Broadcast(context.Background(), "started"))
	assert.Empty(t, s.calls)

	require.NoError(t, n.Send(context.Background(), "1", "alert"))
	assert.Len(t, s.calls, 1)
}

func TestTelegramSenderResolvesChat(t *testing.T) {
	var got []map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "-100")
	require.NoError(t, s.Send(context.Background(), "12345", "up"))
	require.NoError(t, s.Send(context.Background(), "alice", "down"))

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	require.Len(t, got, 2)
	assert.Equal(t, "12345", got[0]["chat_id"])
	assert.Equal(t, "up", got[0]["text"])
	assert.Equal(t, "-100", got[1]["chat_id"])
}

func TestTelegramSenderWithoutDefaultChat(t *testing.T) {
	s := NewTelegramSender("http://127.0.0.1:0", "TOKEN", "")
	err := s.Send(context.Background(), "alice", "x")
	assert.Error(t, err)
}

func TestTelegramSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer srv.Close()

	err := NewTelegramSender(srv.URL, "T", "").Send(context.Background(), "1", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSender(t *testing.T) {
	var content string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		content = body["content"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "alice", "BTC up"))
	assert.Equal(t, "**alice**\nBTC up", content)

	require.NoError(t, s.Send(context.Background(), "", "started"))
	assert.Equal(t, "started", content)
}
