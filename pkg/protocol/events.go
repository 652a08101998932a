package protocol

// Diagnostic event names for the handler callbacks fired by the core
// components (interrupt, overflow, capacity warning, state change, config
// reload). No code in this module references them; the gateway's log
// calls use their own event strings. These never travel over the node
// transport — see frame.go for that.
const (
	DiagEventInterrupt        = "lane.interrupt"
	DiagEventOverflow         = "lane.overflow"
	DiagEventDeliveryOverflow = "delivery.overflow"
	DiagEventCapacityWarning  = "convroute.capacity_warning"
	DiagEventSessionChange    = "session.state_change"
	DiagEventConfigUpdated    = "config.updated"
	DiagEventConfigRestart    = "config.restart_required"
	DiagEventConfigError      = "config.reload_error"
	DiagEventCircuitOpen      = "breaker.open"
)
