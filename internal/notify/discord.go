package notify

import (
	"context"
	"net/http"
	"time"
)

// Discord embed limits.
const (
	discordTitleLimit       = 256
	discordDescriptionLimit = 4096
)

const (
	colorFailure = 0xD83C3E
	colorInfo    = 0x3B82F6
)

// DiscordSender posts alerts to a webhook as a single embed coloured by
// severity.
type DiscordSender struct {
	webhookURL string
	username   string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a sender for the webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		username:   "dayahead",
		client:     &http.Client{Timeout: sendTimeout},
		now:        time.Now,
	}
}

type discordWebhook struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Timestamp   string         `json:"timestamp"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordFooter struct {
	Text string `json:"text"`
}

func (d *DiscordSender) Send(ctx context.Context, alert Alert) error {
	embed := discordEmbed{
		Title:       truncate(alert.Title, discordTitleLimit),
		Description: truncate(alert.Message, discordDescriptionLimit),
		Color:       colorInfo,
		Timestamp:   d.now().UTC().Format(time.RFC3339),
	}
	if alert.severe() {
		embed.Color = colorFailure
	}
	if alert.Event != "" {
		embed.Footer = &discordFooter{Text: alert.Event}
	}
	return postJSON(ctx, d.client, "discord", d.webhookURL, discordWebhook{
		Username: d.username,
		Embeds:   []discordEmbed{embed},
	})
}

func (d *DiscordSender) Name() string { return "discord" }
