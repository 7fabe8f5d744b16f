package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

// Telegram caps a message at 4096 characters.
const telegramMaxText = 4096

// TelegramNotifier posts plain-text alerts through the Bot API sendMessage
// method.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(token, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		token:   token,
		chatID:  chatID,
		apiBase: telegramAPI,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// WithAPIBase points the notifier at a different Bot API host.
func (t *TelegramNotifier) WithAPIBase(base string) *TelegramNotifier {
	t.apiBase = strings.TrimRight(base, "/")
	return t
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	form := url.Values{
		"chat_id":                  {t.chatID},
		"text":                     {telegramText(alert)},
		"disable_web_page_preview": {"true"},
	}
	endpoint := t.apiBase + "/bot" + t.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		// url.Error would echo the bot token
		return fmt.Errorf("telegram: send %q failed", alert.Title)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var r telegramReply
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(raw, &r)
		if resp.StatusCode == http.StatusTooManyRequests && r.Parameters.RetryAfter > 0 {
			return fmt.Errorf("telegram: rate limited, retry after %ds", r.Parameters.RetryAfter)
		}
		if r.Description != "" {
			return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, r.Description)
		}
		return fmt.Errorf("telegram: status %d", resp.StatusCode)
	}

	log.Printf("[telegram] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}

// telegramText renders "[LEVEL] title" over the message body.
func telegramText(a Alert) string {
	text := "[" + string(a.Level) + "] " + a.Title
	if a.Message != "" {
		text += "\n" + a.Message
	}
	if r := []rune(text); len(r) > telegramMaxText {
		text = string(r[:telegramMaxText-3]) + "..."
	}
	return text
}
