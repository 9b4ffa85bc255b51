package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
)

const (
	telegramAPIBase   = "https://api.telegram.org"
	telegramTextLimit = 4096
)

// TelegramSender posts alerts to a chat through the Bot API. Messages use
// HTML formatting since event names contain underscores, which Markdown
// would read as emphasis.
type TelegramSender struct {
	apiBase string
	token   string
	chatID  string
	client  *http.Client
}

// NewTelegramSender creates a sender for the bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		apiBase: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		client:  &http.Client{Timeout: sendTimeout},
	}
}

type telegramMessage struct {
	ChatID              string `json:"chat_id"`
	Text                string `json:"text"`
	ParseMode           string `json:"parse_mode"`
	DisableNotification bool   `json:"disable_notification,omitempty"`
	DisablePreview      bool   `json:"disable_web_page_preview"`
}

// Send delivers the alert. Only failures ring the recipient's phone.
func (t *TelegramSender) Send(ctx context.Context, alert Alert) error {
	return postJSON(ctx, t.client, "telegram",
		fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token),
		telegramMessage{
			ChatID:              t.chatID,
			Text:                telegramText(alert),
			ParseMode:           "HTML",
			DisableNotification: !alert.severe(),
			DisablePreview:      true,
		})
}

func (t *TelegramSender) Name() string { return "telegram" }

func telegramText(alert Alert) string {
	mark := "ℹ️"
	if alert.severe() {
		mark = "🔴"
	}
	text := fmt.Sprintf("%s <b>%s</b>", mark, html.EscapeString(alert.Title))
	if alert.Event != "" {
		text += fmt.Sprintf(" <code>%s</code>", html.EscapeString(alert.Event))
	}
	if alert.Message != "" {
		text += "\n" + html.EscapeString(truncate(alert.Message, telegramTextLimit-len([]rune(text))-1))
	}
	return text
}
