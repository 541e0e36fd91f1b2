package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meridian-lab/meridian-trading/internal/logger"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	// requestTimeout bounds every Bot API call.
	requestTimeout = 5 * time.Second
	// longPollSeconds is the getUpdates long-poll window.
	longPollSeconds = 30
)

// TelegramSink sends notifications to one chat through the Bot API. Sends
// are throttled to the per-chat limit so a burst of alerts cannot get the
// bot muted.
type TelegramSink struct {
	baseURL string
	token   string
	chatID  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewTelegramSink creates a sink for the given bot token and chat.
func NewTelegramSink(token, chatID string, log *logger.Logger) *TelegramSink {
	return &TelegramSink{
		baseURL: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: requestTimeout},
		// Telegram allows roughly one message per second per chat.
		limiter: rate.NewLimiter(rate.Limit(1), 4),
		logger:  log,
	}
}

func (s *TelegramSink) Notify(ctx context.Context, text string) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	if err := s.sendMessage(ctx, text); err != nil {
		s.logger.Warn("telegram notification failed", zap.Error(err))
	}
}

func (s *TelegramSink) sendMessage(ctx context.Context, text string) error {
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)

	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage returned status %d", resp.StatusCode)
	}

	return nil
}

// CommandHandlers are the operator callbacks the listener routes to. Each
// handler returns the reply text.
type CommandHandlers struct {
	// Positions reports open positions ("pos").
	Positions func(ctx context.Context) string
	// Stop pauses new entries ("stop").
	Stop func(ctx context.Context) string
	// Start resumes entries ("start").
	Start func(ctx context.Context) string
}

// CommandListener long-polls getUpdates and routes pos/stop/start commands
// from the configured chat to the handlers.
type CommandListener struct {
	sink     *TelegramSink
	handlers CommandHandlers
	logger   *logger.Logger
	offset   int64
}

// NewCommandListener creates a listener sharing the sink's bot credentials.
func NewCommandListener(sink *TelegramSink, handlers CommandHandlers, log *logger.Logger) *CommandListener {
	return &CommandListener{
		sink:     sink,
		handlers: handlers,
		logger:   log,
	}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type telegramUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// Run polls until ctx is cancelled. Poll failures back off briefly and the
// loop continues; the listener never takes the session down.
func (l *CommandListener) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := l.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			l.logger.Warn("telegram getUpdates failed", zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}

			continue
		}

		for _, update := range updates {
			l.offset = update.UpdateID + 1
			l.handle(ctx, update)
		}
	}
}

func (l *CommandListener) fetchUpdates(ctx context.Context) ([]telegramUpdate, error) {
	endpoint := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		l.sink.baseURL, l.sink.token, longPollSeconds, l.offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	// The long poll holds the connection open past the sink's send timeout.
	client := &http.Client{Timeout: (longPollSeconds + 10) * time.Second}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	var decoded telegramUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}

	if !decoded.OK {
		return nil, fmt.Errorf("telegram getUpdates returned ok=false")
	}

	return decoded.Result, nil
}

// handle routes one update. Messages from other chats are ignored.
func (l *CommandListener) handle(ctx context.Context, update telegramUpdate) {
	if strconv.FormatInt(update.Message.Chat.ID, 10) != l.sink.chatID {
		return
	}

	command := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/")))

	var reply string

	switch command {
	case "pos", "positions":
		if l.handlers.Positions != nil {
			reply = l.handlers.Positions(ctx)
		}
	case "stop":
		if l.handlers.Stop != nil {
			reply = l.handlers.Stop(ctx)
		}
	case "start":
		if l.handlers.Start != nil {
			reply = l.handlers.Start(ctx)
		}
	default:
		reply = "commands: pos, stop, start"
	}

	if reply != "" {
		l.sink.Notify(ctx, reply)
	}
}
