package notifier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"reelrelay/internal/eventbus"
	"reelrelay/internal/pipeline"
	kit "reelrelay/internal/transport"
	logx "reelrelay/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	texts []string
	to    []kit.ChatTarget
	err   error
}

func (f *fakeSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.texts = append(f.texts, text)
	f.to = append(f.to, to)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func report(outcomes ...pipeline.Outcome) pipeline.Report {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return pipeline.Report{
		RunID:    "0123456789abcdef",
		Trigger:  "schedule",
		Started:  start,
		Finished: start.Add(1500 * time.Millisecond),
		Fetched:  len(outcomes),
		Outcomes: outcomes,
	}
}

func TestRenderReport(t *testing.T) {
	t.Parallel()
	relayed := pipeline.Outcome{ItemID: "1", Status: pipeline.StatusRelayed}
	seen := pipeline.Outcome{ItemID: "2", Status: pipeline.StatusSkipped, Reason: pipeline.ReasonAlreadyRelayed}
	failed := pipeline.Outcome{ItemID: "3", Status: pipeline.StatusFailed, Step: "transmit", Error: "graph: 500"}

	tests := []struct {
		name         string
		rep          pipeline.Report
		onlyProblems bool
		ok           bool
		contains     []string
	}{
		{name: "quiet run", rep: report(seen), ok: false},
		{name: "relayed", rep: report(relayed, seen), ok: true, contains: []string{"run 01234567 (schedule)", "relayed 1, skipped 1, failed 0", "1.5s"}},
		{name: "relayed only problems", rep: report(relayed), onlyProblems: true, ok: false},
		{name: "failed", rep: report(relayed, failed), onlyProblems: true, ok: true, contains: []string{"failed 1", "3 [transmit]: graph: 500"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			text, ok := Render(eventbus.Event{Type: pipeline.EventRunFinished, Data: tt.rep}, tt.onlyProblems)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v (text %q)", ok, tt.ok, text)
			}
			for _, want := range tt.contains {
				if !strings.Contains(text, want) {
					t.Errorf("text %q missing %q", text, want)
				}
			}
		})
	}
}

func TestRenderAbortedAndSkipped(t *testing.T) {
	t.Parallel()
	rep := report()
	rep.Error = "fetch: upstream returned 503"
	text, ok := Render(eventbus.Event{Type: pipeline.EventRunFinished, Data: rep}, true)
	if !ok || !strings.Contains(text, "run aborted: fetch: upstream returned 503") {
		t.Fatalf("aborted text = %q ok=%v", text, ok)
	}
	if _, ok := Render(eventbus.Event{Type: pipeline.EventRunSkipped}, true); !ok {
		t.Fatal("skipped trigger should be reported")
	}
	if _, ok := Render(eventbus.Event{Type: pipeline.EventItemRelayed}, false); ok {
		t.Fatal("item events are not reported")
	}
}

func TestRenderCapsFailureLines(t *testing.T) {
	t.Parallel()
	var outs []pipeline.Outcome
	for i := 0; i < maxFailureLines+3; i++ {
		outs = append(outs, pipeline.Outcome{ItemID: "x", Status: pipeline.StatusFailed, Step: "retrieve", Error: "404"})
	}
	text, _ := Render(eventbus.Event{Type: pipeline.EventRunFinished, Data: report(outs...)}, false)
	if !strings.Contains(text, "… 3 more") {
		t.Fatalf("text = %q", text)
	}
}

func TestRunDeliversSummaries(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	sender := &fakeSender{}
	chat := kit.ChatTarget{ChatID: -100123, ThreadID: 7}
	s := New(Config{Enabled: true, Chat: chat, RatePerSec: 100}, sender, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for len(sender.sent()) == 0 {
		bus.Publish(eventbus.Event{Type: pipeline.EventRunSkipped})
		if time.Now().After(deadline) {
			t.Fatal("no notification delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.to[0] != chat {
		t.Fatalf("sent to %+v, want %+v", sender.to[0], chat)
	}
	if st := s.Stats(); st.Sent == 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestHandleRespectsDisabledAndCountsFailures(t *testing.T) {
	t.Parallel()
	sender := &fakeSender{err: errors.New("telegram down")}
	s := New(Config{Enabled: false}, sender, nil, logx.Nop())
	ev := eventbus.Event{Type: pipeline.EventRunSkipped}

	s.handle(context.Background(), ev)
	if st := s.Stats(); st.Failed != 0 || st.Sent != 0 {
		t.Fatalf("disabled notifier sent: %+v", st)
	}

	s.Apply(Config{Enabled: true})
	s.handle(context.Background(), ev)
	if st := s.Stats(); st.Failed != 1 || st.LastError != "telegram down" {
		t.Fatalf("stats = %+v", st)
	}

	s.handle(context.Background(), eventbus.Event{Type: pipeline.EventRunFinished, Data: report()})
	if st := s.Stats(); st.Suppressed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
