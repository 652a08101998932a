package protocol

// Control-surface method names (spec §6): the minimal management API a CLI
// or orchestrator drives the gateway process through, independent of the
// per-node Frame traffic defined in frame.go.
const (
	MethodStart             = "start"
	MethodStop              = "stop"
	MethodSnapshot          = "snapshot"
	MethodRestore           = "restore"
	MethodActiveConnections = "activeConnections"
	MethodActiveSessions    = "activeSessions"
	MethodDiagnostics       = "diagnostics"
)
