package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"

	logx "reelrelay/pkg/logx"
)

func newApifyServer(t *testing.T, status int, body string, gotInput *apifyInput) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/acts/clockworks~free-tiktok-scraper/run-sync-get-dataset-items" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("token"); got != "tok" {
			t.Errorf("token = %q", got)
		}
		if gotInput != nil {
			b, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(b, gotInput); err != nil {
				t.Errorf("request body: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApify(baseURL string) *Apify {
	return NewApify(ApifyConfig{BaseURL: baseURL}, logx.Nop())
}

func TestApifySortsNewestFirstAndNormalizes(t *testing.T) {
	t.Parallel()
	body := `[
		{"id": "a", "createTime": 1000, "webVideoUrl": "https://t/a", "videoMeta": {"downloadAddr": "https://cdn/a.mp4"}, "text": "first"},
		{"id": 7301234567890123456, "createTime": 2000, "videoUrl": "https://t/b", "downloadUrl": "https://cdn/b.mp4"},
		{"id": "c", "createTime": "500"}
	]`
	var input apifyInput
	srv := newApifyServer(t, http.StatusOK, body, &input)

	items, err := newTestApify(srv.URL).FetchLatest(context.Background(), "@someone", "tok", 0)
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	want := []string{"7301234567890123456", "a", "c"}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}

	// secondary fields
	if items[0].SourceURL != "https://t/b" || items[0].MediaURL != "https://cdn/b.mp4" {
		t.Fatalf("fallback fields not used: %+v", items[0])
	}
	// primary fields
	if items[1].SourceURL != "https://t/a" || items[1].MediaURL != "https://cdn/a.mp4" || items[1].Caption != "first" {
		t.Fatalf("primary fields not used: %+v", items[1])
	}
	// missing optional fields
	if items[2].MediaURL != "" || items[2].Caption != "" {
		t.Fatalf("missing fields should be empty: %+v", items[2])
	}
	if !items[1].CreatedAt.Equal(time.Unix(1000, 0)) {
		t.Fatalf("CreatedAt = %v", items[1].CreatedAt)
	}

	if len(input.Profiles) != 1 || input.Profiles[0] != "https://www.tiktok.com/@someone" {
		t.Fatalf("profiles = %v", input.Profiles)
	}
	if input.ResultsPerPage != DefaultMaxItems || input.ShouldDownloadVideos || input.ShouldDownloadCovers {
		t.Fatalf("input = %+v", input)
	}
}

func TestApifyLimitsResult(t *testing.T) {
	t.Parallel()
	body := `[{"id":"1","createTime":1},{"id":"2","createTime":2},{"id":"3","createTime":3}]`
	srv := newApifyServer(t, http.StatusOK, body, nil)

	items, err := newTestApify(srv.URL).FetchLatest(context.Background(), "x", "tok", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[0].ID != "3" || items[1].ID != "2" {
		t.Fatalf("items = %+v", items)
	}
}

func TestApifyEmptyOrMalformedIsEmpty(t *testing.T) {
	t.Parallel()
	for name, body := range map[string]string{
		"empty array": `[]`,
		"object":      `{"error": "nope"}`,
		"garbage":     `<html>`,
		"null":        `null`,
	} {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := newApifyServer(t, http.StatusOK, body, nil)
			items, err := newTestApify(srv.URL).FetchLatest(context.Background(), "x", "tok", 10)
			if err != nil {
				t.Fatalf("error = %v, want nil", err)
			}
			if len(items) != 0 {
				t.Fatalf("items = %+v, want none", items)
			}
		})
	}
}

func TestApifyToleratesMistypedOptionalFields(t *testing.T) {
	t.Parallel()
	body := `[
		{"id": "a", "createTime": 1, "text": 123, "downloadUrl": "https://cdn/a.mp4"},
		{"id": "b", "createTime": 2, "videoMeta": "x", "webVideoUrl": false, "downloadUrl": "https://cdn/b.mp4"},
		42
	]`
	srv := newApifyServer(t, http.StatusOK, body, nil)

	items, err := newTestApify(srv.URL).FetchLatest(context.Background(), "x", "tok", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: %+v", len(items), items)
	}
	if items[0].ID != "b" || items[0].MediaURL != "https://cdn/b.mp4" || items[0].SourceURL != "" {
		t.Fatalf("items[0] = %+v", items[0])
	}
	if items[1].ID != "a" || items[1].MediaURL != "https://cdn/a.mp4" || items[1].Caption != "" {
		t.Fatalf("items[1] = %+v", items[1])
	}
}

func TestApifyHTTPError(t *testing.T) {
	t.Parallel()
	srv := newApifyServer(t, http.StatusUnauthorized, `{"error":{"type":"token-not-valid"}}`, nil)
	_, err := newTestApify(srv.URL).FetchLatest(context.Background(), "x", "tok", 10)
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v, want HTTPError 401", err)
	}
}

func TestApifyTimeout(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	a := NewApify(ApifyConfig{BaseURL: srv.URL, Client: &http.Client{Timeout: 50 * time.Millisecond}}, logx.Nop())
	if _, err := a.FetchLatest(context.Background(), "x", "secret-token", 10); err == nil {
		t.Fatal("expected timeout error")
	} else if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("error leaks token: %v", err)
	}
}

const testRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>clips</title>
  <item>
    <guid>old</guid>
    <title>Old clip</title>
    <link>https://example.com/old</link>
    <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
    <enclosure url="https://cdn.example.com/old.mp4" type="video/mp4" length="1"/>
  </item>
  <item>
    <title>New clip</title>
    <link>https://example.com/new</link>
    <pubDate>Wed, 03 Jan 2024 10:00:00 GMT</pubDate>
    <media:content url="https://cdn.example.com/new.mp4" type="video/mp4"/>
  </item>
  <item>
    <guid>text-only</guid>
    <title>No media</title>
    <pubDate>Tue, 02 Jan 2024 10:00:00 GMT</pubDate>
  </item>
</channel>
</rss>`

func TestFeedFetchLatest(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, testRSS)
	}))
	t.Cleanup(srv.Close)

	items, err := NewFeed(srv.Client(), logx.Nop()).FetchLatest(context.Background(), srv.URL, "tok", 10)
	if err != nil {
		t.Fatalf("FetchLatest error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].ID != "https://example.com/new" || items[0].MediaURL != "https://cdn.example.com/new.mp4" {
		t.Fatalf("items[0] = %+v", items[0])
	}
	if items[1].ID != "text-only" || items[1].MediaURL != "" {
		t.Fatalf("items[1] = %+v", items[1])
	}
	if items[2].MediaURL != "https://cdn.example.com/old.mp4" || items[2].Caption != "Old clip" {
		t.Fatalf("items[2] = %+v", items[2])
	}
}

func TestFeedMediaURLPrefersVideoEnclosure(t *testing.T) {
	t.Parallel()
	it := &gofeed.Item{
		Enclosures: []*gofeed.Enclosure{
			{URL: "https://cdn/cover.jpg", Type: "image/jpeg"},
			{URL: "https://cdn/clip.mp4", Type: "video/mp4"},
		},
	}
	if got := feedMediaURL(it); got != "https://cdn/clip.mp4" {
		t.Fatalf("feedMediaURL = %q", got)
	}
	it.Enclosures = it.Enclosures[:1]
	if got := feedMediaURL(it); got != "https://cdn/cover.jpg" {
		t.Fatalf("feedMediaURL = %q", got)
	}
}

func TestFeedUnparsableIsEmpty(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "definitely not a feed")
	}))
	t.Cleanup(srv.Close)

	items, err := NewFeed(srv.Client(), logx.Nop()).FetchLatest(context.Background(), srv.URL, "", 10)
	if err != nil || len(items) != 0 {
		t.Fatalf("FetchLatest = %v, %v", items, err)
	}
}

func TestFeedTruncatedBodyIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("response writer cannot hijack")
			return
		}
		conn, buf, err := hj.Hijack()
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close()
		partial := testRSS[:len(testRSS)/2]
		_, _ = buf.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/rss+xml\r\nContent-Length: 100000\r\n\r\n")
		_, _ = buf.WriteString(partial)
		_ = buf.Flush()
	}))
	t.Cleanup(srv.Close)

	items, err := NewFeed(srv.Client(), logx.Nop()).FetchLatest(context.Background(), srv.URL, "", 10)
	if err == nil {
		t.Fatalf("FetchLatest = %d items, nil error; want a read error", len(items))
	}
	if !strings.Contains(err.Error(), "feed read body") {
		t.Fatalf("err = %v", err)
	}
}

func TestNewUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Driver: "youtube"}, logx.Nop()); err == nil {
		t.Fatal("expected error")
	}
}
