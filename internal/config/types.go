package config

type Config struct {
	Node    NodeConfig    `json:"node,omitempty"`
	Lease   LeaseConfig   `json:"lease"`
	Plan    PlanConfig    `json:"plan"`
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the control-loop cadence, the plan replay
	// trigger and the job execution policy.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Lanes controls tier routing and the lane pool bounds.
	Lanes LanesConfig `json:"lanes,omitempty"`

	// Scaling controls the decision-table engine. If omitted, scaling
	// evaluation is disabled.
	Scaling *ScalingConfig `json:"scaling,omitempty"`

	// Audit controls the decision audit sink. If omitted, auditing is
	// disabled.
	Audit *AuditConfig `json:"audit,omitempty"`

	// Pprof controls the optional debug/profiling HTTP server.
	Pprof PprofConfig `json:"pprof,omitempty"`
}

// NodeConfig identifies this process in the fleet.
type NodeConfig struct {
	// ID overrides the generated node identity. Leave empty to derive
	// one from the hostname plus a random suffix.
	ID string `json:"id,omitempty"`
}

// LeaseConfig controls leader election.
//
// Backend values:
//   - "file": lease record in a JSON file guarded by an advisory lock
//
// Any other backend is unimplemented; the node then runs in observer
// mode unless FallbackToFile routes it to the file backend.
type LeaseConfig struct {
	Backend string `json:"backend,omitempty"`
	Path    string `json:"path"`
	// TTL is a Go duration string (e.g. "10s", "1m"). Default: "30s".
	TTL            string `json:"ttl,omitempty"`
	FallbackToFile bool   `json:"fallback_to_file,omitempty"`
}

// PlanConfig names the task plan and where node states persist.
type PlanConfig struct {
	// Path to the plan file. ".json" selects the JSON shape, anything
	// else is parsed as HCL.
	Path string `json:"path"`
	// StatePath persists node states as JSON so a restarted leader can
	// replay its claims. Empty keeps states in memory only.
	StatePath string `json:"state_path,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the coordinator loop and job execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - tick: "5s"
//   - max_concurrent_browsers: 2
//   - per_domain_interval: "0s" (pacing disabled)
//   - failure_backoff_base: "0s" (no backoff between retries)
//   - failure_backoff_max: "0s" (uncapped)
//   - max_retries: 0 (single attempt)
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Tick is the coordinator control-loop cadence.
	Tick string `json:"tick,omitempty"`

	// Schedule optionally triggers full plan replays. Accepted forms:
	// "cron: */5 * * * *", "interval:30s", "every:1h", "14:30".
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	MaxConcurrentBrowsers int    `json:"max_concurrent_browsers,omitempty"`
	PerDomainInterval     string `json:"per_domain_interval,omitempty"`
	FailureBackoffBase    string `json:"failure_backoff_base,omitempty"`
	FailureBackoffMax     string `json:"failure_backoff_max,omitempty"`
	MaxRetries            int    `json:"max_retries,omitempty"`
}

// LanesConfig controls tier routing fairness and pool sizing bounds.
//
// Defaults (when fields are omitted/zero):
//   - tiers: taken from the plan's tier hints
//   - saturation_threshold: 0.5
//   - min_lanes: 1
//   - max_lanes: 8
type LanesConfig struct {
	// Tiers lists routing tiers in priority order, cheapest first.
	Tiers               []string `json:"tiers,omitempty"`
	SaturationThreshold float64  `json:"saturation_threshold,omitempty"`
	MinLanes            int      `json:"min_lanes,omitempty"`
	MaxLanes            int      `json:"max_lanes,omitempty"`
}

// ScalingConfig controls the decision-table engine.
type ScalingConfig struct {
	Enabled bool `json:"enabled"`
	// TablePath points at an external JSON decision table. Empty uses
	// the built-in table; a structurally invalid file falls back to the
	// built-in table as well.
	TablePath string `json:"table_path,omitempty"`
	// EvaluateEvery is a Go duration string. Default: "30s".
	EvaluateEvery string `json:"evaluate_every,omitempty"`
}

// AuditConfig controls the decision audit sink.
//
// Example:
//
//	"audit": { "driver": "file", "path": "./swarmd_audit" }
type AuditConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// PprofConfig controls the debug HTTP server (pprof endpoints plus
// /healthz and /statusz). The server binds to localhost by default;
// binding anywhere else requires a token or an explicit allow_insecure.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default 127.0.0.1:6060
	Prefix        string `json:"prefix,omitempty"` // default /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Go duration strings. read_timeout defaults to 5s, idle_timeout to
	// 2m; a zero write_timeout keeps streamed profiles unbounded.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}
