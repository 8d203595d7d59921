package config

import (
	"reflect"
	"sort"
	"strings"

	logx "swarmd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Node identity
	if strings.TrimSpace(oldCfg.Node.ID) != strings.TrimSpace(newCfg.Node.ID) {
		changed = append(changed, "node")
		attrs = append(attrs,
			logx.Bool("node.id_set", strings.TrimSpace(newCfg.Node.ID) != ""),
		)
	}

	// Lease
	if !reflect.DeepEqual(oldCfg.Lease, newCfg.Lease) {
		changed = append(changed, "lease")
		attrs = append(attrs,
			logx.String("lease.backend", strings.TrimSpace(newCfg.Lease.Backend)),
			logx.Bool("lease.path_set", strings.TrimSpace(newCfg.Lease.Path) != ""),
			logx.String("lease.ttl", strings.TrimSpace(newCfg.Lease.TTL)),
			logx.Bool("lease.fallback_to_file", newCfg.Lease.FallbackToFile),
		)
	}

	// Plan
	if !reflect.DeepEqual(oldCfg.Plan, newCfg.Plan) {
		changed = append(changed, "plan")
		attrs = append(attrs,
			logx.String("plan.path", strings.TrimSpace(newCfg.Plan.Path)),
			logx.Bool("plan.state_persisted", strings.TrimSpace(newCfg.Plan.StatePath) != ""),
		)
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Scheduler (control loop + execution policy)
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.tick", strings.TrimSpace(newCfg.Scheduler.Tick)),
			logx.String("scheduler.schedule", strings.TrimSpace(newCfg.Scheduler.Schedule)),
			logx.Int("scheduler.max_concurrent_browsers", newCfg.Scheduler.MaxConcurrentBrowsers),
			logx.String("scheduler.per_domain_interval", strings.TrimSpace(newCfg.Scheduler.PerDomainInterval)),
			logx.Int("scheduler.max_retries", newCfg.Scheduler.MaxRetries),
		)
	}

	// Lanes
	if !reflect.DeepEqual(oldCfg.Lanes, newCfg.Lanes) {
		changed = append(changed, "lanes")
		attrs = append(attrs,
			logx.Int("lanes.tier_count", len(newCfg.Lanes.Tiers)),
			logx.Float64("lanes.saturation_threshold", newCfg.Lanes.SaturationThreshold),
			logx.Int("lanes.min_lanes", newCfg.Lanes.MinLanes),
			logx.Int("lanes.max_lanes", newCfg.Lanes.MaxLanes),
		)
	}

	// Scaling. Nil means disabled.
	oldSc := derefScaling(oldCfg.Scaling)
	newSc := derefScaling(newCfg.Scaling)
	if (oldCfg.Scaling != nil) != (newCfg.Scaling != nil) || !reflect.DeepEqual(oldSc, newSc) {
		changed = append(changed, "scaling")
		attrs = append(attrs,
			logx.Bool("scaling.present", newCfg.Scaling != nil),
			logx.Bool("scaling.enabled", newSc.Enabled),
			logx.Bool("scaling.table_path_set", strings.TrimSpace(newSc.TablePath) != ""),
			logx.String("scaling.evaluate_every", strings.TrimSpace(newSc.EvaluateEvery)),
		)
	}

	// Pprof
	if !reflect.DeepEqual(oldCfg.Pprof, newCfg.Pprof) {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", strings.TrimSpace(newCfg.Pprof.Token) != ""),
		)
	}

	// Audit. Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Audit != nil {
		oDriver = strings.TrimSpace(oldCfg.Audit.Driver)
		oBusy = strings.TrimSpace(oldCfg.Audit.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Audit.Path) != ""
	}
	if newCfg.Audit != nil {
		nDriver = strings.TrimSpace(newCfg.Audit.Driver)
		nBusy = strings.TrimSpace(newCfg.Audit.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Audit.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "audit")
		attrs = append(attrs,
			logx.String("audit.driver", nDriver),
			logx.Bool("audit.path_set", nPathSet),
			logx.String("audit.busy_timeout", nBusy),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefScaling(sc *ScalingConfig) ScalingConfig {
	if sc == nil {
		return ScalingConfig{}
	}
	return *sc
}
