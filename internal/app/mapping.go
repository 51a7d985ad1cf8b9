package app

import (
	"strings"

	"reelrelay/internal/config"
	"reelrelay/internal/ledger"
	"reelrelay/internal/notifier"
	"reelrelay/internal/observability/ops"
	"reelrelay/internal/pipeline"
	"reelrelay/internal/source"
	"reelrelay/internal/task/scheduler"
	kit "reelrelay/internal/transport"
	"reelrelay/internal/transport/telegram"
	logx "reelrelay/pkg/logx"
)

// relayJob is the scheduler name of the relay run.
const relayJob = "relay"

// operatorChat parses telegram.chat. An empty value yields the zero target.
func operatorChat(cfg *config.Config) (kit.ChatTarget, error) {
	if strings.TrimSpace(cfg.Telegram.Chat) == "" {
		return kit.ChatTarget{}, nil
	}
	return telegram.ParseChatTarget(cfg.Telegram.Chat)
}

func mapLogConfig(cfg *config.Config) logx.Config {
	// Validate rejects a bad chat when the sink is enabled; otherwise the
	// zero target just disables delivery.
	chat, _ := operatorChat(cfg)
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chat.ChatID,
			ThreadID:   chat.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	chat, err := operatorChat(cfg)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:      cfg.Notifier.Enabled,
		Chat:         chat,
		RatePerSec:   cfg.Notifier.RatePerSec,
		OnlyProblems: cfg.Notifier.OnlyProblems,
	}, nil
}

func mapLedgerConfig(cfg *config.Config, t config.Timeouts) ledger.Config {
	return ledger.Config{
		Driver:      cfg.Ledger.Driver,
		Path:        cfg.Ledger.Path,
		DSN:         cfg.Ledger.DSN,
		BusyTimeout: t.BusyTimeout,
	}
}

func mapSourceConfig(cfg *config.Config, t config.Timeouts) source.Config {
	return source.Config{
		Driver:  cfg.Source.Driver,
		BaseURL: cfg.Source.BaseURL,
		Actor:   cfg.Source.Actor,
		Timeout: t.Fetch,
	}
}

func mapPipelineConfig(cfg *config.Config, t config.Timeouts) pipeline.Config {
	return pipeline.Config{
		Account:      cfg.Source.Account,
		SourceToken:  cfg.Source.Token,
		TargetID:     cfg.Relay.Target,
		PublishToken: cfg.Relay.Token,
		MaxItems:     cfg.Source.MaxItems,
		FetchTimeout: t.Fetch,
		HistorySize:  cfg.Scheduler.HistorySize,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Scheduler.Timezone}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Addr:          cfg.Ops.Addr,
		Token:         cfg.Ops.Token,
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
	}
}
