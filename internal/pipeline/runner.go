// Package pipeline drives one relay run: fetch a batch, drop what the ledger
// already holds, relay the rest one at a time, record each success before
// touching the next item.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"reelrelay/internal/eventbus"
	"reelrelay/internal/ledger"
	"reelrelay/internal/relay"
	"reelrelay/internal/source"
	logx "reelrelay/pkg/logx"
)

// Deps are the collaborators of a Runner. Bus is optional.
type Deps struct {
	Source    source.Fetcher
	Publisher relay.Publisher
	Ledger    ledger.Ledger
	Bus       eventbus.Bus
}

// Runner executes runs. Only one run is active at a time; the Runner is the
// only writer of the ledger.
type Runner struct {
	cfg  Config
	deps Deps
	log  logx.Logger
	now  func() time.Time

	running atomic.Bool

	mu      sync.Mutex
	history []Report // newest last
}

func New(cfg Config, deps Deps, log logx.Logger) (*Runner, error) {
	if deps.Source == nil || deps.Publisher == nil || deps.Ledger == nil {
		return nil, errors.New("pipeline: source, publisher and ledger are required")
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = source.DefaultMaxItems
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 120 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 50
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{cfg: cfg, deps: deps, log: log, now: time.Now}, nil
}

// Running reports whether a run is in progress.
func (r *Runner) Running() bool { return r.running.Load() }

// Run executes one run triggered manually.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	return r.RunTriggered(ctx, "manual")
}

// RunTriggered executes one run. The returned error is the run-level error
// (fetch failure, ledger failure, cancellation, or ErrRunInProgress); item
// failures only appear in the Report.
func (r *Runner) RunTriggered(ctx context.Context, trigger string) (Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn("run skipped; previous run still in progress", logx.String("trigger", trigger))
		r.publish(EventRunSkipped, nil)
		return Report{}, ErrRunInProgress
	}
	defer r.running.Store(false)

	rep := Report{RunID: uuid.NewString(), Trigger: trigger, Started: r.now()}
	log := r.log.With(logx.String("run_id", rep.RunID))
	log.Info("run started", logx.String("trigger", trigger))
	r.publish(EventRunStarted, rep)

	err := r.execute(ctx, log, &rep)
	if err != nil {
		rep.Err = err
		rep.Error = err.Error()
	}
	rep.Finished = r.now()
	r.remember(rep)

	relayed, skipped, failed := rep.Counts()
	fields := []logx.Field{
		logx.Int("fetched", rep.Fetched),
		logx.Int("relayed", relayed),
		logx.Int("skipped", skipped),
		logx.Int("failed", failed),
		logx.Duration("took", rep.Duration()),
	}
	if err != nil {
		log.Error("run aborted", append(fields, logx.Err(err))...)
	} else {
		log.Info("run finished", fields...)
	}
	r.publish(EventRunFinished, rep)
	return rep, err
}

func (r *Runner) execute(ctx context.Context, log logx.Logger, rep *Report) error {
	fctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	items, err := r.deps.Source.FetchLatest(fctx, r.cfg.Account, r.cfg.SourceToken, r.cfg.MaxItems)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	rep.Fetched = len(items)
	if len(items) == 0 {
		log.Info("nothing to relay")
		return nil
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := r.process(ctx, log, it)
		rep.Outcomes = append(rep.Outcomes, out)
		if err != nil {
			return err
		}
	}
	return nil
}

// process handles one item. A non-nil error aborts the run; relay failures
// are reported only in the Outcome.
func (r *Runner) process(ctx context.Context, log logx.Logger, it source.Item) (Outcome, error) {
	id := strings.TrimSpace(it.ID)
	out := Outcome{ItemID: id}
	if id == "" {
		log.Warn("item without id skipped", logx.String("source_url", it.SourceURL))
		out.Status, out.Reason = StatusSkipped, ReasonMissingID
		return out, nil
	}
	ilog := log.With(logx.String("item_id", id))

	seen, err := r.deps.Ledger.Contains(ctx, id)
	if err != nil {
		err = fmt.Errorf("ledger lookup: %w", err)
		out.Status, out.Err, out.Error = StatusFailed, err, err.Error()
		return out, err
	}
	if seen {
		ilog.Debug("already relayed; skipping")
		out.Status, out.Reason = StatusSkipped, ReasonAlreadyRelayed
		return out, nil
	}

	if strings.TrimSpace(it.MediaURL) == "" {
		// Consumed permanently: an item without media is never retried.
		ilog.Warn("item has no media url; marking processed without relaying")
		out.Status, out.Reason = StatusSkipped, ReasonNoMedia
		if err := r.deps.Ledger.Add(ctx, id); err != nil {
			err = fmt.Errorf("ledger add: %w", err)
			out.Err, out.Error = err, err.Error()
			return out, err
		}
		out.Recorded = true
		return out, nil
	}

	ilog.Info("relaying item")
	downstreamID, err := r.deps.Publisher.Publish(ctx, relay.Request{
		TargetID: r.cfg.TargetID,
		Token:    r.cfg.PublishToken,
		MediaURL: it.MediaURL,
		Caption:  it.Caption,
		ItemID:   id,
	})
	if err != nil {
		out.Status, out.Step, out.Err, out.Error = StatusFailed, relay.FailedStep(err), err, err.Error()
		ilog.Error("relay failed; will retry next run", logx.String("step", out.Step), logx.Err(err))
		r.publish(EventItemFailed, out)
		return out, nil
	}

	out.Status, out.DownstreamID = StatusRelayed, downstreamID
	if err := r.deps.Ledger.Add(ctx, id); err != nil {
		// Already published downstream; without a record the next run would
		// publish it again, so stop here.
		err = fmt.Errorf("ledger add after relay of %s: %w", id, err)
		out.Err, out.Error = err, err.Error()
		ilog.Error("relayed but not recorded", logx.String("downstream_id", downstreamID), logx.Err(err))
		r.publish(EventItemRelayed, out)
		return out, err
	}
	out.Recorded = true
	ilog.Info("item relayed", logx.String("downstream_id", downstreamID))
	r.publish(EventItemRelayed, out)
	return out, nil
}

func (r *Runner) publish(typ string, data any) {
	if r.deps.Bus == nil {
		return
	}
	r.deps.Bus.Publish(eventbus.Event{Type: typ, Time: r.now(), Data: data})
}

func (r *Runner) remember(rep Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, rep)
	if over := len(r.history) - r.cfg.HistorySize; over > 0 {
		r.history = append(r.history[:0:0], r.history[over:]...)
	}
}

// History returns the retained reports, newest first.
func (r *Runner) History() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.history))
	for i, rep := range r.history {
		out[len(r.history)-1-i] = rep
	}
	return out
}

// Last returns the most recent report, if any.
func (r *Runner) Last() (Report, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return Report{}, false
	}
	return r.history[len(r.history)-1], true
}
