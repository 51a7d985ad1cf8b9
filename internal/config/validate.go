package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	logx "reelrelay/pkg/logx"
)

// ErrMissing is wrapped by Error when required parameters are absent.
var ErrMissing = errors.New("missing required configuration")

// Error is a fatal pre-run configuration problem.
type Error struct {
	Missing  []string // required parameters (env names) that were not provided
	Problems []string // invalid values
}

func (e *Error) Error() string {
	parts := make([]string, 0, 2)
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required parameter(s): "+strings.Join(e.Missing, ", "))
	}
	if len(e.Problems) > 0 {
		parts = append(parts, strings.Join(e.Problems, "; "))
	}
	return "config: " + strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error {
	if len(e.Missing) > 0 {
		return ErrMissing
	}
	return nil
}

// Validate checks required parameters and value formats.
// It reports every problem at once rather than stopping at the first.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &Error{Problems: []string{"config is nil"}}
	}
	e := &Error{}

	// Required external parameters (the account, both credentials, the target).
	if strings.TrimSpace(cfg.Source.Account) == "" {
		e.Missing = append(e.Missing, "REELRELAY_ACCOUNT")
	}
	if strings.TrimSpace(cfg.Source.Token) == "" && sourceNeedsToken(cfg.Source.Driver) {
		e.Missing = append(e.Missing, "REELRELAY_SOURCE_TOKEN")
	}
	if strings.TrimSpace(cfg.Relay.Target) == "" {
		e.Missing = append(e.Missing, "REELRELAY_TARGET_ID")
	}
	if strings.TrimSpace(cfg.Relay.Token) == "" {
		e.Missing = append(e.Missing, "REELRELAY_PUBLISH_TOKEN")
	}

	bad := func(format string, args ...any) { e.Problems = append(e.Problems, fmt.Sprintf(format, args...)) }

	switch strings.ToLower(strings.TrimSpace(cfg.Source.Driver)) {
	case "", "apify", "feed":
	default:
		bad("source.driver: unknown %q", cfg.Source.Driver)
	}
	if cfg.Source.MaxItems < 0 {
		bad("source.max_items must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Driver)) {
	case "", "facebook", "telegram":
	default:
		bad("relay.driver: unknown %q", cfg.Relay.Driver)
	}
	if cfg.Relay.RatePerMinute < 0 {
		bad("relay.rate_per_minute must be >= 0")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Ledger.Driver)) {
	case "", "file", "json":
	case "sqlite", "sqlite3":
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(cfg.Ledger.DSN) == "" {
			bad("ledger.dsn is required for the postgres driver")
		}
	default:
		bad("ledger.driver: unknown %q", cfg.Ledger.Driver)
	}

	for _, d := range []struct{ key, raw string }{
		{"source.timeout", cfg.Source.Timeout},
		{"relay.download_timeout", cfg.Relay.DownloadTimeout},
		{"relay.publish_timeout", cfg.Relay.PublishTimeout},
		{"ledger.busy_timeout", cfg.Ledger.BusyTimeout},
	} {
		if _, err := ParseDurationField(d.key, d.raw); err != nil {
			bad("%v", err)
		}
	}
	if strings.TrimSpace(cfg.Scheduler.Schedule) == "" {
		bad("scheduler.schedule is required")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			bad("scheduler.timezone: invalid %q", tz)
		}
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		bad("logging.level: unknown %q", cfg.Logging.Level)
	}
	if (cfg.Notifier.Enabled || cfg.Logging.Telegram.Enabled) &&
		(strings.TrimSpace(cfg.Telegram.Token) == "" || strings.TrimSpace(cfg.Telegram.Chat) == "") {
		bad("telegram.token and telegram.chat are required when notifier or telegram logging is enabled")
	}

	if len(e.Missing) == 0 && len(e.Problems) == 0 {
		return nil
	}
	return e
}

func sourceNeedsToken(driver string) bool {
	return strings.ToLower(strings.TrimSpace(driver)) != "feed"
}

// ChangedSections lists the top-level sections that differ between two configs.
// It never looks at secret values, only at whether they changed.
func ChangedSections(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []string
	if oldCfg.Source != newCfg.Source {
		out = append(out, "source")
	}
	if oldCfg.Relay != newCfg.Relay {
		out = append(out, "relay")
	}
	if oldCfg.Ledger != newCfg.Ledger {
		out = append(out, "ledger")
	}
	if oldCfg.Scheduler.Schedule != newCfg.Scheduler.Schedule ||
		oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone ||
		oldCfg.Scheduler.HistorySize != newCfg.Scheduler.HistorySize ||
		oldCfg.Scheduler.RunOnStartEnabled() != newCfg.Scheduler.RunOnStartEnabled() {
		out = append(out, "scheduler")
	}
	if oldCfg.Logging != newCfg.Logging {
		out = append(out, "logging")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		out = append(out, "telegram")
	}
	if oldCfg.Notifier != newCfg.Notifier {
		out = append(out, "notifier")
	}
	if oldCfg.Ops != newCfg.Ops {
		out = append(out, "ops")
	}
	return out
}

// RestartRequired reports whether any changed section cannot be applied live.
func RestartRequired(sections []string) bool {
	for _, s := range sections {
		switch s {
		case "source", "relay", "ledger", "telegram", "ops":
			return true
		}
	}
	return false
}
