package rbac

// MetricsRecorder receives authorization telemetry.
type MetricsRecorder interface {
	ObserveDecision(module string, allowed bool)
	ObserveCache(tier string, hit bool)
}
