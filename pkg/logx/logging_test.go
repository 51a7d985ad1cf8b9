package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	kit "reelrelay/internal/transport"
)

func TestWriterEmitsStructuredJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "INFO").With(String("comp", "ledger"))

	log.Debug("hidden")
	log.Warn("ledger slow", Int("ids", 3), Duration("took", 2*time.Second), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %q", lines)
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatal(err)
	}
	if m["level"] != "warn" || m["message"] != "ledger slow" || m["comp"] != "ledger" || m["ids"] != float64(3) {
		t.Fatalf("entry = %v", m)
	}
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not be logged")
	}
	if caller, _ := m["caller"].(string); !strings.HasPrefix(caller, "logging_test.go:") {
		t.Fatalf("caller = %v", m["caller"])
	}
}

func TestZeroAndNop(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	zero.Info("dropped")
	if Nop().IsZero() {
		t.Fatal("Nop is a configured logger")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for lvl, want := range map[string]bool{"": true, "info": true, "WARNING": true, " error ": true, "verbose": false} {
		if got := ValidLevel(lvl); got != want {
			t.Errorf("ValidLevel(%q) = %v, want %v", lvl, got, want)
		}
	}
}

func TestFormatTelegramJSON(t *testing.T) {
	t.Parallel()
	got := formatTelegramJSON([]byte(`{"level":"error","time":"x","caller":"a.go:1","message":"run aborted","comp":"pipeline","err":"boom"}`))
	want := "[ERROR] run aborted\n- comp=pipeline\n- err=boom"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if got := formatTelegramJSON([]byte("not json")); got != "not json" {
		t.Fatalf("raw fallback = %q", got)
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []string
	to   kit.ChatTarget
}

func (c *captureSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, text)
	c.to = to
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (c *captureSender) snapshot() ([]string, kit.ChatTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...), c.to
}

func TestTelegramSinkShipsWarnings(t *testing.T) {
	svc, log := New(Config{
		Level:   "DEBUG",
		Console: true,
		Telegram: TelegramConfig{
			Enabled:    true,
			ChatID:     -1001,
			ThreadID:   9,
			MinLevel:   "WARN",
			RatePerSec: 50,
		},
	})
	defer svc.Close()
	sender := &captureSender{}
	svc.SetSender(sender)

	log = log.With(String("comp", "relay"))
	log.Info("routine")
	log.Warn("upload retried")

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs, to := sender.snapshot()
		if len(msgs) > 0 {
			if len(msgs) != 1 || !strings.HasPrefix(msgs[0], "[WARN] upload retried") || !strings.Contains(msgs[0], "- comp=relay") {
				t.Fatalf("msgs = %q", msgs)
			}
			if to.ChatID != -1001 || to.ThreadID != 9 {
				t.Fatalf("to = %+v", to)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("warning not shipped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
