package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices and maps so callers cannot mutate the original through the
	// redacted copy.
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Reconcile.Exchanges = append([]string(nil), cfg.Reconcile.Exchanges...)
	if cfg.Fees != nil {
		out.Fees = make(map[string]FeeRates, len(cfg.Fees))
		for k, v := range cfg.Fees {
			out.Fees[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
