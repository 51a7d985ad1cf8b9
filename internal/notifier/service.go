package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reelrelay/internal/eventbus"
	"reelrelay/internal/pipeline"
	kit "reelrelay/internal/transport"
	logx "reelrelay/pkg/logx"
)

// maxFailureLines caps the per-item lines in one summary.
const maxFailureLines = 10

var ErrNoSender = errors.New("notifier: no sender")

// Service turns run events into operator messages. It is safe for
// concurrent use; Apply may be called while Run is active.
type Service struct {
	mu      sync.Mutex
	log     logx.Logger
	sender  kit.TextSender
	bus     eventbus.Bus
	cfg     Config
	limiter *rate.Limiter
	stats   Stats
}

func New(cfg Config, sender kit.TextSender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, bus: bus, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Run consumes bus events until ctx is cancelled. Events arriving while the
// notifier is disabled are dropped.
func (s *Service) Run(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ch, unsub := s.bus.Subscribe(32, pipeline.EventRunFinished, pipeline.EventRunSkipped)
	defer unsub()
	s.log.Info("notifier listening")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return errors.New("event bus subscription closed")
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Service) handle(ctx context.Context, ev eventbus.Event) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()
	if !cfg.Enabled {
		return
	}

	text, ok := Render(ev, cfg.OnlyProblems)
	if !ok {
		s.mu.Lock()
		s.stats.Suppressed++
		s.mu.Unlock()
		return
	}
	if err := lim.Wait(ctx); err != nil {
		return
	}
	err := s.send(ctx, cfg, text)

	s.mu.Lock()
	if err != nil {
		s.stats.Failed++
		s.stats.LastError = err.Error()
	} else {
		s.stats.Sent++
		s.stats.LastSentAt = time.Now()
	}
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("notification failed", logx.String("event", ev.Type), logx.Err(err))
	}
}

func (s *Service) send(ctx context.Context, cfg Config, text string) error {
	if s.sender == nil {
		return ErrNoSender
	}
	sctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
	defer cancel()
	_, err := s.sender.SendText(sctx, cfg.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Render formats an event as plain text. ok is false when the event should
// not be reported.
func Render(ev eventbus.Event, onlyProblems bool) (text string, ok bool) {
	switch ev.Type {
	case pipeline.EventRunSkipped:
		return "⚠️ reelrelay: trigger skipped, previous run still in progress", true
	case pipeline.EventRunFinished:
		rep, isReport := ev.Data.(pipeline.Report)
		if !isReport {
			return "", false
		}
		return renderReport(rep, onlyProblems)
	}
	return "", false
}

func renderReport(rep pipeline.Report, onlyProblems bool) (string, bool) {
	relayed, skipped, failed := rep.Counts()
	problem := failed > 0 || rep.Error != ""
	if !problem && (onlyProblems || relayed == 0) {
		return "", false
	}

	var b strings.Builder
	icon := "✅"
	if problem {
		icon = "❌"
	}
	fmt.Fprintf(&b, "%s reelrelay run %s", icon, shortID(rep.RunID))
	if rep.Trigger != "" {
		fmt.Fprintf(&b, " (%s)", rep.Trigger)
	}
	fmt.Fprintf(&b, "\nfetched %d, relayed %d, skipped %d, failed %d in %s",
		rep.Fetched, relayed, skipped, failed, rep.Duration().Round(time.Millisecond))

	lines := 0
	for _, o := range rep.Outcomes {
		if o.Status != pipeline.StatusFailed {
			continue
		}
		if lines == maxFailureLines {
			fmt.Fprintf(&b, "\n… %d more", failed-lines)
			break
		}
		step := o.Step
		if step == "" {
			step = "ledger"
		}
		fmt.Fprintf(&b, "\n• %s [%s]: %s", o.ItemID, step, o.Error)
		lines++
	}
	if rep.Error != "" {
		fmt.Fprintf(&b, "\nrun aborted: %s", rep.Error)
	}
	return b.String(), true
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
