package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "reelrelay/pkg/logx"
)

// Config controls the scheduler.
type Config struct {
	Timezone string // IANA TZ, e.g. "Europe/Berlin"; empty means local
}

// Job is a scheduled unit of work. trigger is "schedule" for timer fires
// and the caller-supplied reason for Trigger.
type Job func(ctx context.Context, trigger string) error

type scheduleDef struct {
	name    string
	parsed  ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID

	running atomic.Bool

	mu       sync.Mutex
	lastRun  time.Time
	lastTook time.Duration
	lastErr  string
	skipped  uint64
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	c    *cron.Cron
	defs map[string]*scheduleDef

	// baseCtx parents every job context; cancelled by Stop after the drain.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type ScheduleInfo struct {
	Name     string        `json:"name"`
	Spec     string        `json:"spec"`
	Kind     string        `json:"kind"`
	Timeout  time.Duration `json:"timeout"`
	Next     time.Time     `json:"next,omitempty"`
	Prev     time.Time     `json:"prev,omitempty"`
	Running  bool          `json:"running"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	LastTook time.Duration `json:"last_took,omitempty"`
	LastErr  string        `json:"last_error,omitempty"`
	Skipped  uint64        `json:"skipped"`
}

type Snapshot struct {
	Started   bool           `json:"started"`
	Timezone  string         `json:"timezone"`
	Schedules []ScheduleInfo `json:"schedules"`
}
