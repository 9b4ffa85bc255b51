package config

import (
	"net/url"
	"slices"
	"strings"
)

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log. Plain secrets are
// replaced by "***". Connection URLs keep their host and options with only
// the password masked; values that do not parse as URLs are masked whole.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	for _, s := range []*string{
		&out.Nordpool.Password,
		&out.Nordpool.ClientSecret,
		&out.Nordpool.SubscriptionKey,
		&out.Postgres.Password,
		&out.Redis.Password,
		&out.Redis.SealPassword,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
		&out.Server.APIKey,
		&out.Notify.TelegramToken,
		// The webhook token is part of the path.
		&out.Notify.DiscordWebhookURL,
	} {
		redact(s)
	}
	out.Postgres.DSN = redactURL(out.Postgres.DSN)
	out.Redis.URL = redactURL(out.Redis.URL)

	out.Market.Areas = slices.Clone(cfg.Market.Areas)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	if q := u.Query(); len(q) > 0 {
		for k := range q {
			if strings.Contains(strings.ToLower(k), "password") {
				q.Set(k, redacted)
			}
		}
		u.RawQuery = q.Encode()
	}
	// Keep the mask readable instead of percent-encoded.
	return strings.ReplaceAll(u.String(), url.QueryEscape(redacted), redacted)
}
