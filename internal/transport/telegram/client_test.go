package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	kit "reelrelay/internal/transport"
	logx "reelrelay/pkg/logx"
)

func TestParseChatTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    kit.ChatTarget
		wantErr bool
	}{
		{raw: "-100123", want: kit.ChatTarget{ChatID: -100123}},
		{raw: " 42:7 ", want: kit.ChatTarget{ChatID: 42, ThreadID: 7}},
		{raw: "", wantErr: true},
		{raw: "0", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "42:x", wantErr: true},
		{raw: "42:-1", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseChatTarget(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseChatTarget(%q) err = %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseChatTarget(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	if got := splitTelegramText("short", 10, ""); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}
	text := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(text, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("split = %q", got)
	}
	if got := truncateRunes("héllo wörld", 5); got != "héll…" {
		t.Fatalf("truncateRunes = %q", got)
	}
}

// botAPI fakes the Bot API methods the client calls.
type botAPI struct {
	mu      sync.Mutex
	methods []string
	texts   []string
	video   []byte
}

func (b *botAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		b.mu.Lock()
		b.methods = append(b.methods, method)
		switch method {
		case "sendMessage":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("decode sendMessage: %v", err)
			}
			text, _ := body["text"].(string)
			b.texts = append(b.texts, text)
		case "sendVideo":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			} else if f, _, err := r.FormFile("video"); err == nil {
				buf := make([]byte, 64)
				n, _ := f.Read(buf)
				b.video = buf[:n]
				_ = f.Close()
			}
		}
		n := len(b.methods)
		b.mu.Unlock()
		extra := ""
		if method == "sendVideo" {
			extra = `,"video":{"file_id":"f1","file_unique_id":"u1","width":1,"height":1,"duration":1}`
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":1700000000,"chat":{"id":-100,"type":"supergroup"}%s}}`, 100+n, extra)
	}
}

func newTestClient(t *testing.T, api *botAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	c, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	api := &botAPI{}
	c := newTestClient(t, api)

	long := strings.Repeat("x", telegramTextLimit+10)
	ref, err := c.SendText(context.Background(), kit.ChatTarget{ChatID: -100}, long, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ref.MessageID != 101 || ref.ChatID != -100 {
		t.Fatalf("ref = %+v", ref)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.texts) != 2 || len(api.texts[0]) != telegramTextLimit {
		t.Fatalf("chunks = %d", len(api.texts))
	}
}

func TestSendVideoUploadsFile(t *testing.T) {
	t.Parallel()
	api := &botAPI{}
	c := newTestClient(t, api)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("video-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}
	ref, err := c.SendVideo(context.Background(), kit.ChatTarget{ChatID: -100, ThreadID: 3}, kit.VideoUpload{Path: path, Caption: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if ref.MessageID != 101 || ref.ThreadID != 3 {
		t.Fatalf("ref = %+v", ref)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.methods) != 1 || api.methods[0] != "sendVideo" || string(api.video) != "video-bytes" {
		t.Fatalf("methods = %v video = %q", api.methods, api.video)
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}
