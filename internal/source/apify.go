package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelrelay/internal/ledger"
	logx "reelrelay/pkg/logx"
)

const (
	defaultApifyBaseURL = "https://api.apify.com/v2"
	defaultApifyActor   = "clockworks~free-tiktok-scraper"
)

type ApifyConfig struct {
	BaseURL string
	Actor   string
	Client  *http.Client
}

// Apify runs a TikTok profile scraper actor synchronously and reads its
// dataset items.
type Apify struct {
	baseURL string
	actor   string
	client  *http.Client
	log     logx.Logger
}

func NewApify(cfg ApifyConfig, log logx.Logger) *Apify {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Apify{
		baseURL: strings.TrimRight(firstNonEmpty(cfg.BaseURL, defaultApifyBaseURL), "/"),
		actor:   firstNonEmpty(cfg.Actor, defaultApifyActor),
		client:  cfg.Client,
		log:     log,
	}
	if a.client == nil {
		a.client = &http.Client{Timeout: 120 * time.Second}
	}
	return a
}

type apifyInput struct {
	Profiles             []string `json:"profiles"`
	ResultsPerPage       int      `json:"resultsPerPage"`
	ShouldDownloadVideos bool     `json:"shouldDownloadVideos"`
	ShouldDownloadCovers bool     `json:"shouldDownloadCovers"`
}

func (a *Apify) FetchLatest(ctx context.Context, account, token string, maxItems int) ([]Item, error) {
	account = strings.TrimPrefix(strings.TrimSpace(account), "@")
	limit := effectiveLimit(maxItems)
	a.log.Info("fetching latest items", logx.String("account", account), logx.Int("max_items", limit))

	body, err := json.Marshal(apifyInput{
		Profiles:       []string{"https://www.tiktok.com/@" + account},
		ResultsPerPage: limit,
	})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?token=%s",
		a.baseURL, url.PathEscape(a.actor), url.QueryEscape(token))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify request: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apify read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: snippet(raw, 200)}
	}

	items, dropped, ok := decodeApifyItems(raw)
	if dropped > 0 {
		a.log.Warn("dropped dataset members that are not records", logx.Int("dropped", dropped))
	}
	if !ok {
		a.log.Warn("unexpected response shape; treating as empty", logx.String("body", snippet(raw, 120)))
		return nil, nil
	}
	if len(items) == 0 {
		a.log.Info("no items returned")
		return nil, nil
	}
	items = newestFirst(items, limit)
	a.log.Info("items retrieved", logx.Int("count", len(items)))
	return items, nil
}

// decodeApifyItems reports false when raw is not a JSON array. Array members
// that are not objects are dropped and counted. Optional fields of the wrong
// type read as empty.
func decodeApifyItems(raw []byte) (items []Item, dropped int, ok bool) {
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, 0, false
	}
	items = make([]Item, 0, len(elems))
	for _, elem := range elems {
		var rec map[string]any
		dec := json.NewDecoder(bytes.NewReader(elem))
		dec.UseNumber()
		if err := dec.Decode(&rec); err != nil || rec == nil {
			dropped++
			continue
		}
		media := ""
		if meta, ok := rec["videoMeta"].(map[string]any); ok {
			media = stringField(meta["downloadAddr"])
		}
		items = append(items, Item{
			ID:        ledger.CanonicalID(rec["id"]),
			SourceURL: firstNonEmpty(stringField(rec["webVideoUrl"]), stringField(rec["videoUrl"])),
			MediaURL:  firstNonEmpty(media, stringField(rec["downloadUrl"])),
			Caption:   stringField(rec["text"]),
			CreatedAt: unixSeconds(rec["createTime"]),
		})
	}
	return items, dropped, true
}

// stringField returns v when it is a JSON string and "" otherwise.
func stringField(v any) string {
	s, _ := v.(string)
	return s
}

// unixSeconds accepts a number or a numeric string; anything else is the zero time.
func unixSeconds(v any) time.Time {
	var s string
	switch x := v.(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		return time.Unix(n, 0).UTC()
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return time.Unix(int64(f), 0).UTC()
	}
	return time.Time{}
}

// redactURLError drops the request URL (which carries the token) from
// transport errors.
func redactURLError(err error) error {
	if ue, ok := err.(*url.Error); ok {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}
