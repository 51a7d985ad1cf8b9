package notifier

import (
	"time"

	kit "reelrelay/internal/transport"
)

// Config controls run summaries.
type Config struct {
	Enabled bool
	Chat    kit.ChatTarget
	// RatePerSec caps sends; 0 means 1.
	RatePerSec int
	// OnlyProblems suppresses summaries for clean runs.
	OnlyProblems bool
	// SendTimeout bounds one delivery; 0 means 15s.
	SendTimeout time.Duration
}

// Stats counts deliveries since start.
type Stats struct {
	Sent       uint64    `json:"sent"`
	Failed     uint64    `json:"failed"`
	Suppressed uint64    `json:"suppressed"`
	LastSentAt time.Time `json:"last_sent_at,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}
