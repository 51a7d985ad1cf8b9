package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "reelrelay/pkg/logx"
)

// TriggerSchedule is the trigger name passed to jobs fired by their schedule.
const TriggerSchedule = "schedule"

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log,
		defs: map[string]*scheduleDef{},
	}
}

// Add registers (or replaces) the named schedule. It may be called before
// or after Start.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[name]; ok && s.c != nil {
		s.c.Remove(old.entryID)
	}
	d := &scheduleDef{name: name, parsed: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(d); err != nil {
		s.log.Error("schedule register failed", logx.String("name", name), logx.String("spec", ps.Spec()), logx.Err(err))
		return err
	}
	s.log.Info("schedule registered", s.describeLocked(d)...)
	return nil
}

// Reschedule changes the schedule of an existing job, keeping its state.
func (s *Service) Reschedule(name, schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return fmt.Errorf("unknown schedule %q", name)
	}
	if d.parsed.Spec() == ps.Spec() {
		return nil
	}
	if s.c != nil {
		s.c.Remove(d.entryID)
	}
	d.parsed = ps
	if s.c != nil {
		if err := s.addCronLocked(d); err != nil {
			return err
		}
	}
	s.log.Info("schedule changed", s.describeLocked(d)...)
	return nil
}

// Remove unregisters the named schedule. A running invocation is not interrupted.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

// Apply updates the scheduler config. A timezone change re-registers every
// schedule in the new location.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	old := s.c
	s.startCronLocked()
	old.Stop()
	s.log.Info("timezone changed; schedules re-registered", logx.String("tz", s.loc.String()))
}

// Start begins triggering. Jobs get contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.startCronLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
	for _, d := range s.defs {
		s.log.Info("schedule registered", s.describeLocked(d)...)
	}
}

func (s *Service) startCronLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	sched, err := d.parsed.schedule()
	if err != nil {
		return err
	}
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() { s.fire(d, TriggerSchedule) }))
	return nil
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Trigger runs the named job now in the background, subject to the same
// no-overlap rule as scheduled fires.
func (s *Service) Trigger(name, reason string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("unknown schedule %q", name)
	}
	if s.c == nil {
		s.mu.Unlock()
		return errors.New("scheduler not started")
	}
	// Added under mu so a concurrent Stop, which clears s.c under mu, waits for it.
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		s.fire(d, reason)
	}()
	return nil
}

func (s *Service) fire(d *scheduleDef, trigger string) {
	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.mu.Lock()
		d.skipped++
		d.mu.Unlock()
		s.log.Warn("trigger skipped; previous run still in progress",
			logx.String("name", d.name), logx.String("trigger", trigger))
		return
	}
	defer d.running.Store(false)

	ctx := base
	var cancel context.CancelFunc = func() {}
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(base, d.timeout)
	}
	defer cancel()

	start := time.Now()
	s.log.Debug("job started", logx.String("name", d.name), logx.String("trigger", trigger))
	err := s.invoke(ctx, d, trigger)
	took := time.Since(start)

	d.mu.Lock()
	d.lastRun, d.lastTook = start, took
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("job finished", logx.String("name", d.name), logx.Duration("took", took))
}

func (s *Service) invoke(ctx context.Context, d *scheduleDef, trigger string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panic", logx.String("name", d.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return d.job(ctx, trigger)
}

// Stop stops triggering and waits for running jobs until ctx is done, then
// cancels whatever is still running.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.cancel
	s.mu.Unlock()
	if c == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("stop deadline reached; cancelling running jobs")
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Snapshot reports every schedule with its next trigger time.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Started: s.c != nil, Timezone: time.Local.String()}
	if s.loc != nil {
		snap.Timezone = s.loc.String()
	}
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.parsed.Spec(),
			Kind:    d.parsed.Kind.String(),
			Timeout: d.timeout,
			Running: d.running.Load(),
		}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		d.mu.Lock()
		info.LastRun, info.LastTook, info.LastErr, info.Skipped = d.lastRun, d.lastTook, d.lastErr, d.skipped
		d.mu.Unlock()
		snap.Schedules = append(snap.Schedules, info)
	}
	sort.Slice(snap.Schedules, func(i, j int) bool { return snap.Schedules[i].Name < snap.Schedules[j].Name })
	return snap
}

func (s *Service) describeLocked(d *scheduleDef) []logx.Field {
	fields := []logx.Field{
		logx.String("name", d.name),
		logx.String("spec", d.parsed.Spec()),
		logx.Duration("timeout", d.timeout),
	}
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	if next := d.parsed.NextRuns(time.Now().In(loc), 3); len(next) > 0 {
		parts := make([]string, 0, len(next))
		for _, t := range next {
			parts = append(parts, t.Format("2006-01-02 15:04:05"))
		}
		fields = append(fields, logx.String("next", strings.Join(parts, ", ")))
	}
	return fields
}
