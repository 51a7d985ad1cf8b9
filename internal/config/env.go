package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LookupFunc matches os.LookupEnv; tests inject a map-backed lookup.
type LookupFunc func(key string) (string, bool)

// envBinding maps environment variables onto a config field.
// Names are tried in order; the first non-empty value wins.
type envBinding struct {
	names []string
	set   func(c *Config, v string) error
}

var envBindings = []envBinding{
	{[]string{"REELRELAY_ACCOUNT", "TIKTOK_USERNAME"}, func(c *Config, v string) error { c.Source.Account = v; return nil }},
	{[]string{"REELRELAY_SOURCE_TOKEN", "APIFY_TOKEN"}, func(c *Config, v string) error { c.Source.Token = v; return nil }},
	{[]string{"REELRELAY_SOURCE_DRIVER"}, func(c *Config, v string) error { c.Source.Driver = v; return nil }},
	{[]string{"REELRELAY_MAX_ITEMS"}, func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("REELRELAY_MAX_ITEMS: not an integer")
		}
		c.Source.MaxItems = n
		return nil
	}},
	{[]string{"REELRELAY_TARGET_ID", "FACEBOOK_PAGE_ID"}, func(c *Config, v string) error { c.Relay.Target = v; return nil }},
	{[]string{"REELRELAY_PUBLISH_TOKEN", "FACEBOOK_ACCESS_TOKEN"}, func(c *Config, v string) error { c.Relay.Token = v; return nil }},
	{[]string{"REELRELAY_RELAY_DRIVER"}, func(c *Config, v string) error { c.Relay.Driver = v; return nil }},
	{[]string{"REELRELAY_STAGING_DIR"}, func(c *Config, v string) error { c.Relay.StagingDir = v; return nil }},
	{[]string{"REELRELAY_LEDGER_DRIVER"}, func(c *Config, v string) error { c.Ledger.Driver = v; return nil }},
	{[]string{"REELRELAY_LEDGER_PATH"}, func(c *Config, v string) error { c.Ledger.Path = v; return nil }},
	{[]string{"REELRELAY_LEDGER_DSN", "DATABASE_URL"}, func(c *Config, v string) error { c.Ledger.DSN = v; return nil }},
	{[]string{"REELRELAY_SCHEDULE"}, func(c *Config, v string) error { c.Scheduler.Schedule = v; return nil }},
	{[]string{"REELRELAY_TIMEZONE", "TZ"}, func(c *Config, v string) error { c.Scheduler.Timezone = v; return nil }},
	{[]string{"REELRELAY_LOG_LEVEL"}, func(c *Config, v string) error { c.Logging.Level = v; return nil }},
	{[]string{"REELRELAY_TELEGRAM_TOKEN"}, func(c *Config, v string) error { c.Telegram.Token = v; return nil }},
	{[]string{"REELRELAY_TELEGRAM_CHAT"}, func(c *Config, v string) error { c.Telegram.Chat = v; return nil }},
	{[]string{"REELRELAY_OPS_TOKEN"}, func(c *Config, v string) error { c.Ops.Token = v; return nil }},
}

// ApplyEnv overlays environment values on cfg. Empty values are ignored so an
// exported-but-blank variable never wipes a file setting.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, b := range envBindings {
		for _, name := range b.names {
			v, ok := lookup(name)
			v = strings.TrimSpace(v)
			if !ok || v == "" {
				continue
			}
			if err := b.set(cfg, v); err != nil {
				errs = append(errs, err)
			}
			break
		}
	}
	return errors.Join(errs...)
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Existing variables are not overridden. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
