// Package source discovers candidate items on the upstream platform.
//
// Every Fetcher returns at most maxItems items ordered newest first. An
// upstream that answers with something other than a list of records yields
// an empty batch; only transport-level problems are errors.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	logx "reelrelay/pkg/logx"
)

// DefaultMaxItems applies when a caller passes maxItems <= 0.
const DefaultMaxItems = 10

// Item is one normalized upstream record. It is rebuilt on every fetch.
type Item struct {
	ID        string
	SourceURL string
	MediaURL  string
	Caption   string
	CreatedAt time.Time
}

// Fetcher returns the newest items published by account.
type Fetcher interface {
	FetchLatest(ctx context.Context, account, token string, maxItems int) ([]Item, error)
}

// HTTPError is a non-2xx answer from the upstream.
type HTTPError struct {
	Status int
	Body   string // first bytes of the response, for logs
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.Status, e.Body)
}

// Config selects and configures a Fetcher.
type Config struct {
	Driver  string // apify (default) | feed
	BaseURL string
	Actor   string
	Timeout time.Duration
	Client  *http.Client // optional; overrides Timeout
}

// New builds the configured Fetcher.
func New(cfg Config, log logx.Logger) (Fetcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "source"))
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "apify":
		return NewApify(ApifyConfig{BaseURL: cfg.BaseURL, Actor: cfg.Actor, Client: client}, log), nil
	case "feed":
		return NewFeed(client, log), nil
	default:
		return nil, errors.New("unknown source driver: " + driver)
	}
}

// newestFirst sorts items by CreatedAt descending and keeps at most limit.
// Items with equal timestamps keep their upstream order.
func newestFirst(items []Item, limit int) []Item {
	slices.SortStableFunc(items, func(a, b Item) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func effectiveLimit(maxItems int) int {
	if maxItems <= 0 {
		return DefaultMaxItems
	}
	return maxItems
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func snippet(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = s[:n] + "…"
	}
	return s
}
