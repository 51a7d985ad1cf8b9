// Package logx configures reelrelay's structured logging.
//
// It is a small wrapper (logx.Logger) on top of zerolog that keeps:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - An optional Telegram sink for operators (min-level + rate limiting)
//
// Components tag their lines with a "comp" field (cron, source, relay, ledger, ...).
package logx
