package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	logx "reelrelay/pkg/logx"
)

// Feed reads an RSS, Atom or JSON feed. The account is the feed URL and the
// token, if set, is sent as a bearer credential.
type Feed struct {
	client *http.Client
	parser *gofeed.Parser
	log    logx.Logger
}

func NewFeed(client *http.Client, log logx.Logger) *Feed {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Feed{client: client, parser: gofeed.NewParser(), log: log}
}

func (f *Feed) FetchLatest(ctx context.Context, account, token string, maxItems int) ([]Item, error) {
	feedURL := strings.TrimSpace(account)
	limit := effectiveLimit(maxItems)
	f.log.Info("fetching feed", logx.String("url", feedURL), logx.Int("max_items", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8")
	if t := strings.TrimSpace(token); t != "" {
		req.Header.Set("Authorization", "Bearer "+t)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &HTTPError{Status: resp.StatusCode, Body: snippet(b, 200)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("feed read body: %w", err)
	}
	feed, err := f.parser.Parse(bytes.NewReader(raw))
	if err != nil {
		f.log.Warn("feed unparsable; treating as empty", logx.Err(err), logx.String("body", snippet(raw, 120)))
		return nil, nil
	}

	items := make([]Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		items = append(items, feedItem(it))
	}
	if len(items) == 0 {
		f.log.Info("no items returned")
		return nil, nil
	}
	items = newestFirst(items, limit)
	f.log.Info("items retrieved", logx.Int("count", len(items)))
	return items, nil
}

func feedItem(it *gofeed.Item) Item {
	var created time.Time
	switch {
	case it.PublishedParsed != nil:
		created = *it.PublishedParsed
	case it.UpdatedParsed != nil:
		created = *it.UpdatedParsed
	}
	return Item{
		ID:        firstNonEmpty(it.GUID, it.Link),
		SourceURL: strings.TrimSpace(it.Link),
		MediaURL:  feedMediaURL(it),
		Caption:   firstNonEmpty(it.Title, it.Description),
		CreatedAt: created,
	}
}

// feedMediaURL prefers a video enclosure, then any enclosure, then a
// Media RSS <media:content url="...">.
func feedMediaURL(it *gofeed.Item) string {
	var anyEnclosure string
	for _, enc := range it.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		if strings.HasPrefix(strings.ToLower(enc.Type), "video/") {
			return strings.TrimSpace(enc.URL)
		}
		if anyEnclosure == "" {
			anyEnclosure = strings.TrimSpace(enc.URL)
		}
	}
	if anyEnclosure != "" {
		return anyEnclosure
	}
	for _, c := range it.Extensions["media"]["content"] {
		if u := strings.TrimSpace(c.Attrs["url"]); u != "" {
			return u
		}
	}
	return ""
}
