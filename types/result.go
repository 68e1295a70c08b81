package types

// MaxLogBytes caps the log carried in a callback result. Longer logs are
// truncated, keeping the tail (the failure usually lives at the end).
const MaxLogBytes = 256 * 1024

// CallbackResult is the JSON payload a worker (or the watchdog) writes to
// the artifact store at internal/callbacks/<run_id>/<order_num>/result.
// Writing one triggers an orchestrator pass for the run.
type CallbackResult struct {
	Status Status `json:"status"`
	Log    string `json:"log"`
}

// StartMarkerStatus is the status carried by the admission start marker
// written under order number 0000. It is not an order status.
const StartMarkerStatus = "init"

// DoneMarker is the finalisation artifact written to done/<run_id>/done
// once every order of the run is terminal.
type DoneMarker struct {
	Status  Status  `json:"status"`
	Summary Summary `json:"summary"`
}

// Summary counts terminal orders by outcome.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	TimedOut  int `json:"timed_out"`
}

// TruncateLog trims a log to MaxLogBytes, preserving the tail.
func TruncateLog(log string) string {
	if len(log) <= MaxLogBytes {
		return log
	}
	return log[len(log)-MaxLogBytes:]
}
