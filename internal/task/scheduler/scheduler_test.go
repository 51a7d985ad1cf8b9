package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	logx "reelrelay/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
		spec     string
	}{
		{name: "cron", raw: "*/10 * * * *", kind: SpecCron, source: "cron", spec: "*/10 * * * *"},
		{name: "cron with seconds", raw: "0 */10 * * * *", kind: SpecCron, source: "cron", spec: "0 */10 * * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron", spec: "@hourly"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: SpecCron, source: "cron", spec: "0 0 * * *"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute, spec: "@every 10m0s"},
		{name: "prefixed interval", raw: "interval:45s", kind: SpecInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix", raw: "every:00:10", kind: SpecInterval, source: "hhmm", duration: 10 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
			if tt.spec != "" && got.Spec() != tt.spec {
				t.Fatalf("Spec() = %q, want %q", got.Spec(), tt.spec)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "61 * * * *", "00:75", "interval:-5m", "500ms"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Errorf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestNextRuns(t *testing.T) {
	t.Parallel()
	ps, err := ParseSchedule("*/10 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC)
	got := ps.NextRuns(from, 2)
	if len(got) != 2 || !got[0].Equal(from.Add(7*time.Minute)) || !got[1].Equal(from.Add(17*time.Minute)) {
		t.Fatalf("NextRuns = %v", got)
	}
}

func TestTriggerRunsJobAndSkipsOverlap(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	release := make(chan struct{})
	started := make(chan string, 4)
	var calls atomic.Int32
	err := s.Add("relay", "@every 1h", time.Minute, func(ctx context.Context, trigger string) error {
		calls.Add(1)
		started <- trigger
		<-release
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	s.Start(context.Background())

	if err := s.Trigger("relay", "startup"); err != nil {
		t.Fatal(err)
	}
	select {
	case trig := <-started:
		if trig != "startup" {
			t.Fatalf("trigger = %q", trig)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	// Overlapping trigger is skipped.
	if err := s.Trigger("relay", "manual"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := s.Snapshot()
		if len(snap.Schedules) == 1 && snap.Schedules[0].Skipped == 1 {
			if !snap.Schedules[0].Running {
				t.Fatal("schedule should report running")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("overlap not skipped: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := calls.Load(); got != 1 {
		t.Fatalf("job calls = %d, want 1", got)
	}
}

func TestJobErrorAndPanicAreRecorded(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var n atomic.Int32
	_ = s.Add("flaky", "@every 1h", 0, func(ctx context.Context, trigger string) error {
		if n.Add(1) == 1 {
			return errors.New("boom")
		}
		panic("kaboom")
	})
	s.Start(context.Background())
	defer s.Stop(context.Background())

	waitErr := func(want string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			snap := s.Snapshot()
			if snap.Schedules[0].LastErr == want && !snap.Schedules[0].Running {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("LastErr = %q, want %q", snap.Schedules[0].LastErr, want)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	_ = s.Trigger("flaky", "manual")
	waitErr("boom")
	_ = s.Trigger("flaky", "manual")
	waitErr("panic: kaboom")
}

func TestTriggerUnknownOrStopped(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	if err := s.Trigger("missing", "manual"); err == nil {
		t.Fatal("expected error for unknown schedule")
	}
	_ = s.Add("relay", "10m", 0, func(context.Context, string) error { return nil })
	if err := s.Trigger("relay", "manual"); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestStopWaitsForConcurrentTriggers(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	var stopped atomic.Bool
	var late atomic.Int32
	_ = s.Add("relay", "@every 1h", 0, func(context.Context, string) error {
		time.Sleep(time.Millisecond)
		if stopped.Load() {
			late.Add(1)
		}
		return nil
	})
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if err := s.Trigger("relay", "manual"); err != nil {
				return
			}
		}
	}()
	time.Sleep(2 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
	stopped.Store(true)
	<-done

	if n := late.Load(); n != 0 {
		t.Fatalf("%d job(s) ran after Stop returned", n)
	}
	if err := s.Trigger("relay", "manual"); err == nil {
		t.Fatal("expected error after Stop")
	}
}

func TestRescheduleAndApply(t *testing.T) {
	t.Parallel()
	s := New(Config{Timezone: "UTC"}, logx.Nop())
	_ = s.Add("relay", "*/10 * * * *", 0, func(context.Context, string) error { return nil })
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Reschedule("relay", "15m"); err != nil {
		t.Fatal(err)
	}
	s.Apply(Config{Timezone: "Asia/Tokyo"})
	snap := s.Snapshot()
	if snap.Timezone != "Asia/Tokyo" {
		t.Fatalf("Timezone = %q", snap.Timezone)
	}
	if got := snap.Schedules[0]; got.Spec != "@every 15m0s" || got.Kind != "interval" || got.Next.IsZero() {
		t.Fatalf("schedule = %+v", got)
	}
	if err := s.Reschedule("relay", "bogus"); err == nil {
		t.Fatal("expected parse error")
	}
	if !s.Remove("relay") || s.Remove("relay") {
		t.Fatal("Remove should succeed once")
	}
}
