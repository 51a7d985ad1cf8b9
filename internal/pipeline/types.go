package pipeline

import (
	"errors"
	"time"
)

// ErrRunInProgress is returned by Run when another run has not finished.
var ErrRunInProgress = errors.New("run already in progress")

// Status is the result class of one item in one run.
type Status string

const (
	StatusSkipped Status = "skipped"
	StatusRelayed Status = "relayed"
	StatusFailed  Status = "failed"
)

// Skip reasons.
const (
	ReasonMissingID      = "missing id"
	ReasonAlreadyRelayed = "already relayed"
	ReasonNoMedia        = "no media url"
)

// Outcome is what happened to one item.
type Outcome struct {
	ItemID string `json:"item_id"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
	// Step is the failing relay step for StatusFailed.
	Step         string `json:"step,omitempty"`
	DownstreamID string `json:"downstream_id,omitempty"`
	// Recorded is true when the run added the item to the ledger.
	Recorded bool   `json:"recorded"`
	Error    string `json:"error,omitempty"`
	Err      error  `json:"-"`
}

// Report summarizes one run.
type Report struct {
	RunID    string    `json:"run_id"`
	Trigger  string    `json:"trigger,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Fetched  int       `json:"fetched"`
	Outcomes []Outcome `json:"outcomes"`
	// Error is set when the run was aborted (fetch or ledger failure, cancellation).
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// Counts tallies outcomes by status.
func (r Report) Counts() (relayed, skipped, failed int) {
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusRelayed:
			relayed++
		case StatusSkipped:
			skipped++
		case StatusFailed:
			failed++
		}
	}
	return relayed, skipped, failed
}

func (r Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// Config carries the per-deployment parameters of a run.
type Config struct {
	Account      string
	SourceToken  string
	TargetID     string
	PublishToken string
	MaxItems     int
	// FetchTimeout bounds discovery; 0 means 120s.
	FetchTimeout time.Duration
	// HistorySize is how many reports History keeps; 0 means 50.
	HistorySize int
}
