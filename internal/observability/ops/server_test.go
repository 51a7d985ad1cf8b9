package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reelrelay/internal/pipeline"
	logx "reelrelay/pkg/logx"
)

type fakeRuns struct {
	reports []pipeline.Report
	running bool
}

func (f *fakeRuns) History() []pipeline.Report { return f.reports }
func (f *fakeRuns) Running() bool              { return f.running }

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRunsEndpoint(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{reports: []pipeline.Report{{RunID: "b"}, {RunID: "a"}}}
	h := New(Config{}, Deps{Runs: runs}, logx.Nop()).Handler()

	rec := do(t, h, http.MethodGet, "/runs?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []pipeline.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RunID != "b" {
		t.Fatalf("runs = %+v", got)
	}
	if rec := do(t, h, http.MethodGet, "/runs?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
}

func TestAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, Deps{Runs: &fakeRuns{}}, logx.Nop()).Handler()

	if rec := do(t, h, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/runs", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/runs", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/runs", "s3cret"); rec.Code != http.StatusOK {
		t.Fatalf("bearer status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/runs?token=s3cret", ""); rec.Code != http.StatusOK {
		t.Fatalf("query token status = %d", rec.Code)
	}
}

func TestStatusMergesExtraState(t *testing.T) {
	t.Parallel()
	runs := &fakeRuns{reports: []pipeline.Report{{RunID: "latest"}}, running: true}
	h := New(Config{}, Deps{
		Runs:   runs,
		Status: func() map[string]any { return map[string]any{"scheduler": map[string]string{"tz": "UTC"}} },
	}, logx.Nop()).Handler()

	rec := do(t, h, http.MethodGet, "/status", "")
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["running"] != true || got["scheduler"] == nil || got["last_run"] == nil {
		t.Fatalf("status = %v", got)
	}
}

func TestTriggerEndpoint(t *testing.T) {
	t.Parallel()
	var reasons []string
	runs := &fakeRuns{}
	h := New(Config{}, Deps{
		Runs: runs,
		Trigger: func(reason string) error {
			reasons = append(reasons, reason)
			return nil
		},
	}, logx.Nop()).Handler()

	if rec := do(t, h, http.MethodGet, "/run", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /run status = %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/run", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("POST /run status = %d", rec.Code)
	}
	runs.running = true
	if rec := do(t, h, http.MethodPost, "/run", ""); rec.Code != http.StatusConflict {
		t.Fatalf("busy POST /run status = %d", rec.Code)
	}
	if len(reasons) != 1 || reasons[0] != "ops" {
		t.Fatalf("reasons = %v", reasons)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	off := New(Config{}, Deps{}, logx.Nop()).Handler()
	if rec := do(t, off, http.MethodGet, "/debug/pprof/", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled status = %d", rec.Code)
	}
	on := New(Config{Pprof: true}, Deps{}, logx.Nop()).Handler()
	rec := do(t, on, http.MethodGet, "/debug/pprof/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "goroutine") {
		t.Fatalf("pprof index = %d", rec.Code)
	}
}

func TestServeRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	s := New(Config{Addr: "0.0.0.0:0"}, Deps{}, logx.Nop())
	if err := s.Serve(context.Background()); !errors.Is(err, errInsecureBind) {
		t.Fatalf("Serve = %v, want errInsecureBind", err)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{}, Deps{}, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveListener(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server not reachable: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("serve = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:6061": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":6061":          false,
		"10.0.0.1:80":    false,
		"nonsense":       false,
	} {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	if err := CheckBind(Config{Addr: "127.0.0.1:6061"}); err != nil {
		t.Fatal(err)
	}
	if err := CheckBind(Config{Addr: ":6061"}); !errors.Is(err, errInsecureBind) {
		t.Fatalf("CheckBind = %v", err)
	}
	if err := CheckBind(Config{Addr: ":6061", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	if err := CheckBind(Config{Addr: ":6061", AllowInsecure: true}); err != nil {
		t.Fatal(err)
	}
}
