package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Timeouts are the resolved network and storage time bounds.
type Timeouts struct {
	Fetch       time.Duration
	Download    time.Duration
	Publish     time.Duration
	BusyTimeout time.Duration
}

// ResolveTimeouts parses every duration field, falling back to the defaults
// (120s fetch and download, 300s publish, 5s sqlite busy timeout).
func (c *Config) ResolveTimeouts() (Timeouts, error) {
	var (
		t    Timeouts
		err  error
		errs []error
	)
	if t.Fetch, err = ParseDurationOrDefault("source.timeout", c.Source.Timeout, 120*time.Second); err != nil {
		errs = append(errs, err)
	}
	if t.Download, err = ParseDurationOrDefault("relay.download_timeout", c.Relay.DownloadTimeout, 120*time.Second); err != nil {
		errs = append(errs, err)
	}
	if t.Publish, err = ParseDurationOrDefault("relay.publish_timeout", c.Relay.PublishTimeout, 300*time.Second); err != nil {
		errs = append(errs, err)
	}
	if t.BusyTimeout, err = ParseDurationOrDefault("ledger.busy_timeout", c.Ledger.BusyTimeout, 5*time.Second); err != nil {
		errs = append(errs, err)
	}
	return t, errors.Join(errs...)
}
