package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"swarmd/internal/audit"
	"swarmd/internal/lease"
	"swarmd/internal/rpa"
	"swarmd/internal/swarm"
)

// nodeIdentity resolves the identity this process claims leases under.
// An explicit node.id wins; otherwise one is derived from the hostname
// plus a random suffix so two nodes on the same host stay distinct.
func nodeIdentity(cfg *Config) string {
	if cfg != nil {
		if id := strings.TrimSpace(cfg.Node.ID); id != "" {
			return id
		}
	}
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		host = "node"
	}
	return fmt.Sprintf("swarm-%s-%s", host, uuid.NewString()[:8])
}

func mapLeaseConfig(cfg *Config, nodeID string) (lease.Config, error) {
	if cfg == nil {
		return lease.Config{}, fmt.Errorf("config is nil")
	}
	ttl, err := parseDurationOrDefault("lease.ttl", cfg.Lease.TTL, 30*time.Second)
	if err != nil {
		return lease.Config{}, err
	}
	backend := strings.ToLower(strings.TrimSpace(cfg.Lease.Backend))
	usesFile := backend == "" || backend == "file" || cfg.Lease.FallbackToFile
	if usesFile && strings.TrimSpace(cfg.Lease.Path) == "" {
		return lease.Config{}, fmt.Errorf("lease.path is required for the file backend")
	}
	return lease.Config{
		Backend:        cfg.Lease.Backend,
		Path:           cfg.Lease.Path,
		NodeID:         nodeID,
		TTL:            ttl,
		FallbackToFile: cfg.Lease.FallbackToFile,
	}, nil
}

func mapPolicyConfig(cfg *Config) (rpa.Policy, error) {
	if cfg == nil {
		return rpa.Policy{}, fmt.Errorf("config is nil")
	}
	sc := cfg.Scheduler
	if sc.MaxConcurrentBrowsers < 0 {
		return rpa.Policy{}, fmt.Errorf("scheduler.max_concurrent_browsers must be >= 0")
	}
	if sc.MaxRetries < 0 {
		return rpa.Policy{}, fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	pace, err := parseDurationField("scheduler.per_domain_interval", sc.PerDomainInterval)
	if err != nil {
		return rpa.Policy{}, err
	}
	base, err := parseDurationField("scheduler.failure_backoff_base", sc.FailureBackoffBase)
	if err != nil {
		return rpa.Policy{}, err
	}
	maxBackoff, err := parseDurationField("scheduler.failure_backoff_max", sc.FailureBackoffMax)
	if err != nil {
		return rpa.Policy{}, err
	}

	workers := sc.MaxConcurrentBrowsers
	if workers == 0 {
		workers = 2
	}
	return rpa.Policy{
		MaxConcurrentBrowsers: workers,
		PerDomainInterval:     pace,
		FailureBackoffBase:    base,
		FailureBackoffMax:     maxBackoff,
		MaxRetries:            sc.MaxRetries,
	}, nil
}

func mapCoordinatorConfig(cfg *Config, nodeID string) (swarm.Config, error) {
	if cfg == nil {
		return swarm.Config{}, fmt.Errorf("config is nil")
	}
	tick, err := parseDurationOrDefault("scheduler.tick", cfg.Scheduler.Tick, 5*time.Second)
	if err != nil {
		return swarm.Config{}, err
	}

	scalingEnabled := false
	evalEvery := 30 * time.Second
	if cfg.Scaling != nil {
		scalingEnabled = cfg.Scaling.Enabled
		evalEvery, err = parseDurationOrDefault("scaling.evaluate_every", cfg.Scaling.EvaluateEvery, 30*time.Second)
		if err != nil {
			return swarm.Config{}, err
		}
	}

	ln := cfg.Lanes
	if ln.SaturationThreshold < 0 || ln.SaturationThreshold >= 1 {
		return swarm.Config{}, fmt.Errorf("lanes.saturation_threshold must be >= 0 and < 1")
	}
	if ln.MinLanes < 0 || ln.MaxLanes < 0 {
		return swarm.Config{}, fmt.Errorf("lanes.min_lanes and lanes.max_lanes must be >= 0")
	}
	if ln.MaxLanes > 0 && ln.MinLanes > ln.MaxLanes {
		return swarm.Config{}, fmt.Errorf("lanes.min_lanes must be <= lanes.max_lanes")
	}
	minLanes := ln.MinLanes
	if minLanes == 0 {
		minLanes = 1
	}
	maxLanes := ln.MaxLanes
	if maxLanes == 0 {
		maxLanes = 8
	}
	if maxLanes < minLanes {
		maxLanes = minLanes
	}

	return swarm.Config{
		NodeID:         nodeID,
		Tick:           tick,
		Replay:         cfg.Scheduler.Schedule,
		Timezone:       cfg.Scheduler.Timezone,
		ScalingEnabled: scalingEnabled,
		EvaluateEvery:  evalEvery,
		Tiers:          ln.Tiers,
		MinLanes:       minLanes,
		MaxLanes:       maxLanes,
	}, nil
}

func mapAuditConfig(cfg *Config) (audit.Config, bool, error) {
	if cfg == nil || cfg.Audit == nil {
		return audit.Config{}, false, nil
	}
	ac := cfg.Audit
	driver := strings.ToLower(strings.TrimSpace(ac.Driver))
	if driver == "" || driver == "none" {
		return audit.Config{}, false, nil
	}
	path := strings.TrimSpace(ac.Path)
	if path == "" {
		return audit.Config{}, false, fmt.Errorf("audit.path is required when audit.driver=%s", driver)
	}

	switch driver {
	case "file":
		return audit.Config{Driver: driver, Path: path}, true, nil
	case "sqlite", "sqlite3":
		busy, err := parseDurationOrDefault("audit.busy_timeout", ac.BusyTimeout, time.Second)
		if err != nil {
			return audit.Config{}, false, err
		}
		return audit.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return audit.Config{}, false, fmt.Errorf("unknown audit.driver: %s", ac.Driver)
	}
}

// validateConfig is the hot-reload gate: a config that fails here is
// rejected before commit so a bad edit never reaches running components.
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.Plan.Path) == "" {
		return fmt.Errorf("plan.path is required")
	}
	if _, err := mapLeaseConfig(cfg, "validate"); err != nil {
		return err
	}
	if _, err := mapPolicyConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCoordinatorConfig(cfg, "validate"); err != nil {
		return err
	}
	if _, _, err := mapAuditConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPprofConfig(cfg); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Scheduler.Schedule); s != "" {
		if _, err := swarm.ParseSchedule(s); err != nil {
			return fmt.Errorf("scheduler.schedule: %w", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}
