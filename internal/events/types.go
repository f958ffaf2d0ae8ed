package events

// Event enumerates high-level topics inside the webhook trading core.
type Event string

const (
	EventSignalReceived Event = "signal.received"
	EventSignalRejected Event = "signal.rejected"
	EventOrderExecuted  Event = "order.executed"
	EventOrderFailed    Event = "order.failed"
	EventSymbolBlocked  Event = "symbol.blocked"
	EventReentryArmed   Event = "reentry.armed"
	EventReentryTrigger Event = "reentry.triggered"
	EventEngineStarted  Event = "engine.started"
	EventEngineStopped  Event = "engine.stopped"
	EventCountersReset  Event = "counters.reset"
	EventPositionChange Event = "position_change"
)
