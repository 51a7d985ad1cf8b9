package pipeline

// Event types published on the bus. Run events carry a Report, item events
// carry an Outcome, and EventRunSkipped carries nothing.
const (
	EventRunStarted  = "run.started"
	EventItemRelayed = "item.relayed"
	EventItemFailed  = "item.failed"
	EventRunFinished = "run.finished"
	EventRunSkipped  = "run.skipped"
)
