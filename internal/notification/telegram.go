package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramNotifier sends alerts to a chat through the Telegram Bot API.
type TelegramNotifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier. An empty apiBase uses
// DefaultTelegramAPI.
func NewTelegramNotifier(apiBase, botToken, chatID string) *TelegramNotifier {
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}
	return &TelegramNotifier{
		apiBase:  strings.TrimRight(apiBase, "/"),
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send implements Notifier.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := fmt.Sprintf("*%s* %s\n\n%s\n_%s IST_",
		escapeMarkdown(string(alert.Level)),
		escapeMarkdown(alert.Title),
		escapeMarkdown(alert.Message),
		escapeMarkdown(alert.at().In(ist).Format("02 Jan 15:04:05")))

	body, _ := json.Marshal(telegramMessage{ChatID: t.chatID, Text: text, ParseMode: "MarkdownV2"})

	url := t.apiBase + "/bot" + t.botToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send %q: %w", alert.Title, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiResp struct {
			Description string `json:"description"`
		}
		json.NewDecoder(resp.Body).Decode(&apiResp)
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

var ist = time.FixedZone("IST", 5*3600+1800)

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	const specials = "_*[]()~`>#+-=|{}.!\\"
	var buf strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			buf.WriteByte('\\')
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
