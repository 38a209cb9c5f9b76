package notify

import (
	"bytes"
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

	"github.com/alanyoungcy/spotledger/internal/config"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fakeSender struct {
	name string
	err  error
	sent []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.sent = append(f.sent, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{"discrepancy_critical", " "}, discard())

	require.NoError(t, n.Notify(context.Background(), "discrepancy_critical", "a", "m"))
	require.NoError(t, n.Notify(context.Background(), "other", "b", "m"))
	require.NoError(t, n.NotifyAll(context.Background(), "c", "m"))

	assert.Equal(t, []string{"a", "c"}, s.sent)
}

func TestNotifierContinuesPastFailures(t *testing.T) {
	boom := errors.New("boom")
	bad := &fakeSender{name: "bad", err: boom}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.Notify(context.Background(), "any", "t", "m")
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad")
	assert.Equal(t, []string{"t"}, good.sent)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Title", "body"))

	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 400")
}

func TestFromConfigFallsBackToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := FromConfig(config.NotifyConfig{}, logger)

	require.Len(t, n.senders, 1)
	assert.Equal(t, "log", n.senders[0].Name())
	require.NoError(t, n.Notify(context.Background(), "discrepancy_critical", "Unexplained balance", "DOGEUSDT"))
	assert.Contains(t, buf.String(), "Unexplained balance")

	withChat := FromConfig(config.NotifyConfig{TelegramToken: "t", TelegramChatID: "c", DiscordWebhookURL: "http://x"}, logger)
	require.Len(t, withChat.senders, 2)
}

func TestSenderRetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "t", "m"))
	assert.Equal(t, 2, calls)
}
