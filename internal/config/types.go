package config

// Config is the full process configuration.
//
// It is loaded from an optional JSON/YAML file and then overlaid with
// environment variables (see env.go). Secrets are expected to come from the
// environment; the file may still carry them for local setups.
type Config struct {
	Source    SourceConfig    `json:"source"`
	Relay     RelayConfig     `json:"relay"`
	Ledger    LedgerConfig    `json:"ledger"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Notifier  NotifierConfig  `json:"notifier"`
	Ops       OpsConfig       `json:"ops"`
}

// SourceConfig selects and configures the upstream discovery adapter.
//
// Drivers:
//   - "apify": TikTok profile scraper actor on Apify (default)
//   - "feed":  RSS/Atom feed; Account is the feed URL
type SourceConfig struct {
	Driver   string `json:"driver"`
	Account  string `json:"account"`
	Token    string `json:"token"`
	MaxItems int    `json:"max_items,omitempty"`

	// BaseURL overrides the Apify API base (default "https://api.apify.com/v2").
	BaseURL string `json:"base_url,omitempty"`
	// Actor is the Apify actor id (default "clockworks~free-tiktok-scraper").
	Actor string `json:"actor,omitempty"`

	// Timeout is a Go duration string (default "120s").
	Timeout string `json:"timeout,omitempty"`
}

// RelayConfig selects and configures the downstream publisher.
//
// Drivers:
//   - "facebook": Graph API page video upload (default); Target is the page id
//   - "telegram": Bot API sendVideo; Target is "<chat_id>[:<thread_id>]", Token is the bot token
type RelayConfig struct {
	Driver string `json:"driver"`
	Target string `json:"target"`
	Token  string `json:"token"`

	// GraphBaseURL overrides the Graph API base (default "https://graph.facebook.com/v19.0").
	GraphBaseURL string `json:"graph_base_url,omitempty"`
	// TelegramAPIURL overrides the Bot API base URL.
	TelegramAPIURL string `json:"telegram_api_url,omitempty"`

	StagingDir string `json:"staging_dir,omitempty"` // default "./tmp"

	// Go duration strings.
	DownloadTimeout string `json:"download_timeout,omitempty"` // default "120s"
	PublishTimeout  string `json:"publish_timeout,omitempty"`  // default "300s"

	// RatePerMinute caps downstream publishes. 0 disables the limit.
	RatePerMinute int `json:"rate_per_minute,omitempty"`
}

// LedgerConfig controls where relayed ids are recorded.
//
// Example:
//
//	"ledger": { "driver": "file", "path": "./data/processed.json" }
type LedgerConfig struct {
	Driver      string `json:"driver"` // file | sqlite | postgres
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres only
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls run triggering.
//
// Schedule accepts cron ("*/10 * * * *", "@hourly", "@every 10m"), an interval
// duration ("10m") or HH:MM ("00:10").
type SchedulerConfig struct {
	Schedule   string `json:"schedule"`
	Timezone   string `json:"timezone,omitempty"`
	RunOnStart *bool  `json:"run_on_start,omitempty"` // default true
	// HistorySize is the number of run reports kept in memory (default 50).
	HistorySize int `json:"history_size,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the operator bot used for the log sink and the notifier.
// It is independent of relay.driver=telegram, which uses relay.token.
type TelegramConfig struct {
	Token string `json:"token"`
	// Chat is "<chat_id>[:<thread_id>]".
	Chat   string `json:"chat"`
	APIURL string `json:"api_url,omitempty"`
}

// NotifierConfig controls run summaries sent to the operator chat.
type NotifierConfig struct {
	Enabled    bool `json:"enabled"`
	RatePerSec int  `json:"rate_per_sec,omitempty"`
	// OnlyProblems suppresses summaries for runs without failures.
	OnlyProblems bool `json:"only_problems,omitempty"`
}

// OpsConfig controls the optional diagnostics HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Default returns a config with every optional field at its default.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			Driver:   "apify",
			MaxItems: 10,
			BaseURL:  "https://api.apify.com/v2",
			Actor:    "clockworks~free-tiktok-scraper",
			Timeout:  "120s",
		},
		Relay: RelayConfig{
			Driver:          "facebook",
			GraphBaseURL:    "https://graph.facebook.com/v19.0",
			StagingDir:      "./tmp",
			DownloadTimeout: "120s",
			PublishTimeout:  "300s",
		},
		Ledger: LedgerConfig{
			Driver: "file",
			Path:   "./data/processed.json",
		},
		Scheduler: SchedulerConfig{
			Schedule:    "*/10 * * * *",
			HistorySize: 50,
		},
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
			Telegram: LoggingTelegram{
				MinLevel:   "WARN",
				RatePerSec: 1,
			},
		},
		Notifier: NotifierConfig{RatePerSec: 1},
		Ops:      OpsConfig{Addr: "127.0.0.1:6061"},
	}
}

// RunOnStartEnabled reports the effective run_on_start flag.
func (c SchedulerConfig) RunOnStartEnabled() bool {
	return c.RunOnStart == nil || *c.RunOnStart
}
