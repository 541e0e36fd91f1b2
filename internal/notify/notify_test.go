package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-lab/meridian-trading/internal/logger"
)

// recordingSink captures notifications for assertions.
type recordingSink struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSink) Notify(_ context.Context, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.texts = append(s.texts, text)
}

func TestMultiSinkFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}

	NewMultiSink(a, b).Notify(context.Background(), "breaker open")

	assert.Equal(t, []string{"breaker open"}, a.texts)
	assert.Equal(t, []string{"breaker open"}, b.texts)
}

func TestTelegramSinkSendsMessage(t *testing.T) {
	var gotPath string

	var gotChat, gotText string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		require.NoError(t, r.ParseForm())
		gotChat = r.FormValue("chat_id")
		gotText = r.FormValue("text")

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewTelegramSink("test-token", "42", logger.NewNopLogger())
	sink.baseURL = server.URL

	sink.Notify(context.Background(), "entry placed")

	assert.Equal(t, "/bottest-token/sendMessage", gotPath)
	assert.Equal(t, "42", gotChat)
	assert.Equal(t, "entry placed", gotText)
}

func TestCommandListenerRoutesCommands(t *testing.T) {
	updates := []telegramUpdate{
		{UpdateID: 1},
		{UpdateID: 2},
		{UpdateID: 3},
	}
	updates[0].Message.Text = "pos"
	updates[0].Message.Chat.ID = 42
	updates[1].Message.Text = "/stop"
	updates[1].Message.Chat.ID = 42
	// Wrong chat: ignored entirely.
	updates[2].Message.Text = "stop"
	updates[2].Message.Chat.ID = 7

	var replies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bottest-token/sendMessage" {
			require.NoError(t, r.ParseForm())
			replies = append(replies, r.FormValue("text"))
			w.WriteHeader(http.StatusOK)

			return
		}

		require.NoError(t, json.NewEncoder(w).Encode(telegramUpdatesResponse{OK: true, Result: updates}))
	}))
	defer server.Close()

	sink := NewTelegramSink("test-token", "42", logger.NewNopLogger())
	sink.baseURL = server.URL

	listener := NewCommandListener(sink, CommandHandlers{
		Positions: func(context.Context) string { return "no open positions" },
		Stop:      func(context.Context) string { return "entries paused" },
	}, logger.NewNopLogger())

	got, err := listener.fetchUpdates(context.Background())
	require.NoError(t, err)

	for _, update := range got {
		listener.offset = update.UpdateID + 1
		listener.handle(context.Background(), update)
	}

	assert.Equal(t, []string{"no open positions", "entries paused"}, replies)
	assert.Equal(t, int64(4), listener.offset)
}

func TestCommandListenerUnknownCommandGetsHelp(t *testing.T) {
	var replies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		replies = append(replies, r.FormValue("text"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewTelegramSink("test-token", "42", logger.NewNopLogger())
	sink.baseURL = server.URL

	listener := NewCommandListener(sink, CommandHandlers{}, logger.NewNopLogger())

	var update telegramUpdate
	update.UpdateID = 1
	update.Message.Text = "bogus"
	update.Message.Chat.ID = 42

	listener.handle(context.Background(), update)

	assert.Equal(t, []string{"commands: pos, stop, start"}, replies)
}
