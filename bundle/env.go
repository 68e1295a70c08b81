package bundle

import "strconv"

// Reserved env-var names injected into every bundle. These always win
// over user-supplied values.
const (
	EnvCallbackURL = "CALLBACK_URL"
	EnvTimeoutS    = "TIMEOUT_S"
	EnvRunID       = "RUN_ID"
	EnvOrderNum    = "ORDER_NUM"
	EnvOrderName   = "ORDER_NAME"
	EnvTraceID     = "TRACE_ID"
)

// Introspection carries the per-order identity injected as reserved env.
type Introspection struct {
	RunID       string
	OrderNum    string
	OrderName   string
	TraceID     string
	CallbackURL string
	TimeoutS    int
}

// MergeEnv assembles the full environment sealed into a bundle.
// Precedence, lowest to highest: order env_vars, resolved config values,
// resolved secret values, reserved introspection vars. The merged map
// carries credentials and the presigned callback URL, so it never leaves
// this package in plaintext; only its names appear in the manifest.
func MergeEnv(envVars, config, secrets map[string]string, intro Introspection) map[string]string {
	out := make(map[string]string, len(envVars)+len(config)+len(secrets)+6)
	for k, v := range envVars {
		out[k] = v
	}
	for k, v := range config {
		out[k] = v
	}
	for k, v := range secrets {
		out[k] = v
	}
	out[EnvCallbackURL] = intro.CallbackURL
	out[EnvTimeoutS] = strconv.Itoa(intro.TimeoutS)
	out[EnvRunID] = intro.RunID
	out[EnvOrderNum] = intro.OrderNum
	out[EnvOrderName] = intro.OrderName
	out[EnvTraceID] = intro.TraceID
	return out
}
