package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg Config) Config {
	const redacted = "***"

	if cfg.Marketplace.APIKey != "" {
		cfg.Marketplace.APIKey = redacted
	}
	if cfg.Wallet.FundingKey != "" {
		cfg.Wallet.FundingKey = redacted
	}
	if cfg.Wallet.KeyPassword != "" {
		cfg.Wallet.KeyPassword = redacted
	}
	if cfg.Postgres.DSN != "" {
		cfg.Postgres.DSN = redacted
	}
	if cfg.Redis.Password != "" {
		cfg.Redis.Password = redacted
	}
	if cfg.Notify.TelegramToken != "" {
		cfg.Notify.TelegramToken = redacted
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		cfg.Notify.DiscordWebhookURL = redacted
	}
	return cfg
}
