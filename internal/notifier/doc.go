// Package notifier posts run summaries to an operator chat.
//
// The service subscribes to the in-process event bus and reacts to
// run.finished and run.skipped. Runs that relayed nothing and failed nothing
// stay quiet. With OnlyProblems set, only failed items, aborted runs and
// skipped triggers are reported.
//
// Delivery goes through a kit.TextSender (the Telegram client) and is rate
// limited with a token bucket. Notifications are best-effort: a failed send is
// logged and dropped.
package notifier
