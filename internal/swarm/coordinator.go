package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"swarmd/internal/audit"
	"swarmd/internal/dag"
	"swarmd/internal/decision"
	"swarmd/internal/eventbus"
	"swarmd/internal/lane"
	"swarmd/internal/lease"
	"swarmd/internal/rpa"
	logx "swarmd/pkg/logx"
)

// Config is the coordinator's run configuration.
type Config struct {
	// NodeID identifies this process in lease records and audit events.
	NodeID string

	// Tick is the control-loop period. Default 5s.
	Tick time.Duration

	// Replay optionally schedules full plan replays: every terminal node
	// is returned to pending so the whole graph runs again. Accepts cron
	// or interval specs (ParseSchedule forms). Empty disables replays.
	Replay   string
	Timezone string

	// ScalingEnabled turns on the periodic decision-table evaluation.
	ScalingEnabled bool
	// EvaluateEvery is the scaling evaluation period. Default 30s.
	EvaluateEvery time.Duration

	// Tiers lists routing tiers in priority order, cheapest first. When
	// empty the plan's tier hints are used, then a single "default" tier.
	Tiers []string
	// MinLanes/MaxLanes bound the lane target scale actions move.
	MinLanes int
	MaxLanes int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.EvaluateEvery <= 0 {
		c.EvaluateEvery = 30 * time.Second
	}
	if c.MinLanes < 1 {
		c.MinLanes = 1
	}
	if c.MaxLanes < c.MinLanes {
		c.MaxLanes = c.MinLanes
	}
	return c
}

// Deps are the live components the coordinator drives. Leases, Nodes,
// Jobs and Pool are required; everything else has a working default.
type Deps struct {
	Leases    *lease.Manager
	Store     dag.StateStore
	Nodes     []dag.Node
	Jobs      map[string]rpa.Job
	TierHints map[string]string
	Pool      *rpa.Scheduler
	Lanes     *lane.Tracker
	Tables    *TableSource
	Audit     audit.Sink
	Runner    rpa.Runner
}

// Coordinator runs the control loop: acquire or renew the lease each
// tick and, while leader, claim the ready frontier, route it across
// tiers and dispatch it to the job scheduler. Followers and observers
// keep ticking but only watch.
type Coordinator struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	leases *lease.Manager
	store  dag.StateStore
	nodes  []dag.Node
	jobs   map[string]rpa.Job
	hints  map[string]string
	pool   *rpa.Scheduler
	lanes  *lane.Tracker
	tables *TableSource
	sink   audit.Sink
	runner rpa.Runner

	tiers      []string
	replayTrig *Trigger

	facts *factsWindow

	mu           sync.Mutex
	seenLease    bool
	leader       bool
	lastEpoch    uint64
	lastLeader   string
	laneTarget   int
	nodeTier     map[string]string
	replayReason string
}

func New(cfg Config, deps Deps, log logx.Logger, bus eventbus.Bus) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Leases == nil {
		return nil, errors.New("swarm: lease manager is required")
	}
	if deps.Pool == nil {
		return nil, errors.New("swarm: job scheduler is required")
	}
	if len(deps.Nodes) == 0 {
		return nil, errors.New("swarm: no tasks to coordinate")
	}
	if errs := dag.Validate(deps.Nodes); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("swarm: invalid task graph: %s", strings.Join(msgs, "; "))
	}
	for _, n := range deps.Nodes {
		if _, ok := deps.Jobs[n.ID]; !ok {
			return nil, fmt.Errorf("swarm: task %q has no job descriptor", n.ID)
		}
	}
	if deps.Store == nil {
		deps.Store = dag.NewMemoryStore()
	}
	if deps.Lanes == nil {
		deps.Lanes = lane.NewTracker(0)
	}
	if deps.Tables == nil {
		deps.Tables = LoadTable("", log)
	}
	if deps.Runner == nil {
		deps.Runner = ExecRunner(log)
	}

	tiers := append([]string(nil), cfg.Tiers...)
	if len(tiers) == 0 {
		tiers = hintTiers(deps.TierHints)
	}
	if len(tiers) == 0 {
		tiers = []string{"default"}
	}

	c := &Coordinator{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		leases:   deps.Leases,
		store:    deps.Store,
		nodes:    deps.Nodes,
		jobs:     deps.Jobs,
		hints:    deps.TierHints,
		pool:     deps.Pool,
		lanes:    deps.Lanes,
		tables:   deps.Tables,
		sink:     deps.Audit,
		runner:   deps.Runner,
		tiers:    tiers,
		facts:    newFactsWindow(),
		nodeTier: map[string]string{},
	}
	c.laneTarget = clampLanes(len(tiers), cfg.MinLanes, cfg.MaxLanes)

	if strings.TrimSpace(cfg.Replay) != "" {
		trig, err := NewTrigger(cfg.Replay, cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("swarm: replay schedule: %w", err)
		}
		c.replayTrig = trig
	}
	return c, nil
}

// TickReport summarizes one control-loop round.
type TickReport struct {
	Outcome   lease.Outcome `json:"outcome"`
	Leader    bool          `json:"leader"`
	Epoch     uint64        `json:"epoch"`
	Replayed  int           `json:"replayed,omitempty"`
	Requeued  int           `json:"requeued,omitempty"`
	Frontier  int           `json:"frontier"`
	Claimed   int           `json:"claimed"`
	Deduped   int           `json:"deduped,omitempty"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Attempts  int           `json:"attempts"`
	Took      time.Duration `json:"took"`
}

// Tick runs one control-loop round and blocks until every job dispatched
// in it is terminal. Only lease or state store I/O failures return an
// error; follower and observer rounds are normal outcomes.
func (c *Coordinator) Tick(ctx context.Context) (TickReport, error) {
	start := time.Now()
	snap, err := c.leases.AcquireOrRenew(ctx)
	if err != nil {
		return TickReport{}, fmt.Errorf("lease: %w", err)
	}
	c.observeLease(ctx, snap)

	rep := TickReport{Outcome: snap.Outcome, Leader: snap.IsLeader, Epoch: snap.Epoch}
	if !snap.IsLeader {
		rep.Took = time.Since(start)
		c.publish(EventTickComplete, rep)
		return rep, nil
	}

	if reason := c.takeReplayRequest(); reason != "" {
		rep.Replayed = c.resetTerminal(reason)
	}
	rep.Requeued = c.requeueOrphans(snap.Epoch)

	frontier := dag.Frontier(c.nodes, c.store)
	rep.Frontier = len(frontier)

	batch := make([]rpa.Job, 0, len(frontier))
	for _, id := range frontier {
		job := c.jobs[id]
		cur, _ := c.store.Get(id)
		taskID := cur.TaskID
		if taskID == "" {
			taskID = "task-" + shortID()
		}
		attempt := cur.Attempt + 1
		tier := c.routeTier(id)

		res, cerr := dag.Claim(c.store, id, taskID, attempt, snap.Epoch)
		if cerr != nil {
			rep.Took = time.Since(start)
			return rep, fmt.Errorf("claim %s: %w", id, cerr)
		}
		ev := ClaimEvent{
			NodeID: id, TaskID: taskID, Attempt: attempt, Epoch: snap.Epoch,
			ClaimKey: res.ClaimKey, Tier: tier, Deduped: res.Deduped,
		}
		if res.Deduped {
			rep.Deduped++
			c.auditEvent(ctx, EventNodeClaimed, snap.Epoch, id, "deduped", "", ev)
			continue
		}
		rep.Claimed++
		c.lanes.RecordRouted(tier)
		c.lanes.Acquire(tier)
		c.mu.Lock()
		c.nodeTier[id] = tier
		c.mu.Unlock()

		c.publish(EventNodeClaimed, ev)
		c.auditEvent(ctx, EventNodeClaimed, snap.Epoch, id, "claimed", tier, ev)
		batch = append(batch, job)
	}

	if len(batch) > 0 {
		res, rerr := c.pool.Run(ctx, batch, c.runner)
		if rerr != nil {
			rep.Took = time.Since(start)
			return rep, rerr
		}
		rep.Succeeded = res.JobsSucceeded
		rep.Failed = res.JobsFailed
		rep.Attempts = res.AttemptsTotal

		for _, job := range batch {
			out := res.Outcomes[job.ID]
			if out.Succeeded {
				c.transition(job.ID, dag.StateSuccess, "")
			} else {
				c.transition(job.ID, dag.StateFailed, out.Error)
			}
			c.releaseLane(job.ID)
		}

		c.facts.add(FactStarted, int64(rep.Claimed))
		c.facts.add(FactFailed, int64(res.JobsFailed))
		if limit := c.pool.Policy().MaxConcurrentBrowsers; res.MaxConcurrencySeen >= limit && len(batch) > limit {
			c.facts.add(FactParallelGroupsAtLimit, 1)
		}
	}

	rep.Took = time.Since(start)
	c.publish(EventTickComplete, rep)
	if rep.Claimed > 0 || rep.Failed > 0 || rep.Requeued > 0 {
		c.log.Info("tick complete",
			logx.Uint64("epoch", rep.Epoch),
			logx.Int("frontier", rep.Frontier),
			logx.Int("claimed", rep.Claimed),
			logx.Int("succeeded", rep.Succeeded),
			logx.Int("failed", rep.Failed),
			logx.Duration("took", rep.Took))
	} else {
		c.log.Debug("tick idle", logx.Uint64("epoch", rep.Epoch), logx.Duration("took", rep.Took))
	}
	return rep, nil
}

// observeLease publishes leadership changes. Renewals that change
// nothing stay silent.
func (c *Coordinator) observeLease(ctx context.Context, snap lease.Snapshot) {
	c.mu.Lock()
	first := !c.seenLease
	wasLeader, prevEpoch, prevLeader := c.leader, c.lastEpoch, c.lastLeader
	c.seenLease = true
	c.leader = snap.IsLeader
	c.lastEpoch = snap.Epoch
	c.lastLeader = snap.LeaderID
	c.mu.Unlock()

	if snap.Outcome == lease.OutcomeObserver {
		if first {
			c.log.Warn("running in observer mode, scheduling disabled",
				logx.String("requested_backend", snap.RequestedBackend))
		}
		return
	}
	if !first && snap.IsLeader == wasLeader && snap.Epoch == prevEpoch && snap.LeaderID == prevLeader {
		return
	}

	ev := LeaseEvent{NodeID: c.cfg.NodeID, LeaderID: snap.LeaderID, Epoch: snap.Epoch, Outcome: string(snap.Outcome)}
	switch {
	case snap.IsLeader && !wasLeader:
		kind := EventLeaseAcquired
		if !first && snap.Epoch > prevEpoch {
			kind = EventLeaseTakeover
		}
		c.log.Info("leadership acquired",
			logx.Uint64("epoch", snap.Epoch), logx.String("outcome", string(snap.Outcome)))
		c.publish(kind, ev)
		c.auditEvent(ctx, kind, snap.Epoch, snap.LeaderID, string(snap.Outcome), "", nil)

	case !snap.IsLeader && wasLeader:
		c.log.Warn("leadership lost",
			logx.String("leader", snap.LeaderID), logx.Uint64("epoch", snap.Epoch))
		c.publish(EventLeaseLost, ev)

	case !snap.IsLeader && !first && snap.Epoch > prevEpoch:
		c.log.Info("leadership takeover observed",
			logx.String("leader", snap.LeaderID), logx.Uint64("epoch", snap.Epoch))
		c.publish(EventLeaseTakeover, ev)
		c.auditEvent(ctx, EventLeaseTakeover, snap.Epoch, snap.LeaderID, "observed", "", nil)
	}
}

// requeueOrphans returns running nodes to ready. Dispatch is synchronous
// within a tick, so a node still recorded running at tick start was left
// behind by a superseded leader or a crashed incarnation of this one.
func (c *Coordinator) requeueOrphans(epoch uint64) int {
	var ids []string
	states := c.store.Snapshot()
	for id, st := range states {
		if st.State != dag.StateRunning {
			continue
		}
		if _, ok := c.jobs[id]; !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		reason := "orphan_requeue"
		if states[id].LeaderEpoch < epoch {
			reason = "leader_takeover"
		}
		c.log.Warn("requeueing orphaned task",
			logx.String("node", id), logx.String("reason", reason),
			logx.Uint64("claim_epoch", states[id].LeaderEpoch), logx.Uint64("epoch", epoch))
		c.transition(id, dag.StateReady, reason)
	}
	if len(ids) > 0 {
		c.facts.add(FactRestarted, int64(len(ids)))
	}
	return len(ids)
}

// RequestReplay marks every terminal node for re-execution on the next
// leader tick.
func (c *Coordinator) RequestReplay(reason string) {
	if strings.TrimSpace(reason) == "" {
		reason = "replay"
	}
	c.mu.Lock()
	c.replayReason = reason
	c.mu.Unlock()
	c.log.Info("plan replay requested", logx.String("reason", reason))
}

func (c *Coordinator) takeReplayRequest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.replayReason
	c.replayReason = ""
	return r
}

// resetTerminal returns every finished node to pending so the whole plan
// runs again. Running nodes are left alone; requeueOrphans owns those.
func (c *Coordinator) resetTerminal(reason string) int {
	var ids []string
	for id, st := range c.store.Snapshot() {
		if _, ok := c.jobs[id]; !ok {
			continue
		}
		if dag.IsTerminal(st.State) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		c.transition(id, dag.StatePending, reason)
	}
	if len(ids) > 0 {
		c.log.Info("plan replay", logx.String("reason", reason), logx.Int("reset", len(ids)))
	}
	return len(ids)
}

// routeTier picks the execution tier for a node: its plan hint while the
// hint is unsaturated, otherwise the first rebalanced candidate.
func (c *Coordinator) routeTier(nodeID string) string {
	if hint := c.hints[nodeID]; hint != "" && !c.lanes.IsSaturated(hint) {
		return hint
	}
	cands := c.lanes.RebalanceCandidates(c.tiers)
	if len(cands) == 0 {
		return "default"
	}
	return cands[0]
}

// EvaluateScaling runs one decision-table evaluation over the facts
// accumulated since the last one and moves the lane target accordingly.
// The applied action is recorded into the next window so the default
// table's cooldown rules can see it.
func (c *Coordinator) EvaluateScaling(ctx context.Context) decision.Decision {
	facts := c.facts.snapshot()
	dec := c.tables.Current().Evaluate(facts)

	c.mu.Lock()
	prev := c.laneTarget
	target := prev
	if dec.Action == decision.ActionScaleUp || dec.Action == decision.ActionScaleDown {
		target = clampLanes(prev+dec.TargetDelta, c.cfg.MinLanes, c.cfg.MaxLanes)
		c.laneTarget = target
	}
	epoch := c.lastEpoch
	c.mu.Unlock()

	switch dec.Action {
	case decision.ActionScaleUp:
		c.facts.add(FactScaledUp, 1)
	case decision.ActionScaleDown:
		c.facts.add(FactScaledDown, 1)
	}

	ev := ScaleEvent{Decision: dec, LaneTarget: target, PreviousTarget: prev}
	c.publish(EventScaleDecision, ev)
	c.auditEvent(ctx, EventScaleDecision, epoch, string(dec.Action), dec.Reason, "", ev)

	if dec.Action == decision.ActionHold {
		c.log.Debug("scale decision",
			logx.String("action", string(dec.Action)), logx.String("reason", dec.Reason))
	} else {
		c.log.Info("scale decision",
			logx.String("action", string(dec.Action)), logx.String("reason", dec.Reason),
			logx.Int("delta", dec.TargetDelta), logx.Int("lane_target", target), logx.Int("previous", prev))
	}
	return dec
}

// LaneTarget returns the current desired lane count.
func (c *Coordinator) LaneTarget() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.laneTarget
}

// Status is a point-in-time view of the coordinator.
type Status struct {
	NodeID     string        `json:"node_id"`
	Leader     bool          `json:"leader"`
	LeaderID   string        `json:"leader_id,omitempty"`
	Epoch      uint64        `json:"epoch"`
	LaneTarget int           `json:"lane_target"`
	Tiers      []string      `json:"tiers"`
	Tasks      int           `json:"tasks"`
	Lanes      lane.Snapshot `json:"lanes"`
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	st := Status{
		NodeID:     c.cfg.NodeID,
		Leader:     c.leader,
		LeaderID:   c.lastLeader,
		Epoch:      c.lastEpoch,
		LaneTarget: c.laneTarget,
		Tiers:      append([]string(nil), c.tiers...),
		Tasks:      len(c.nodes),
	}
	c.mu.Unlock()
	st.Lanes = c.lanes.Snapshot()
	return st
}

// RunTicks drives the control loop until ctx is done. Tick errors are
// logged and retried on the next round; lease file I/O trouble is
// usually transient.
func (c *Coordinator) RunTicks(ctx context.Context) error {
	c.log.Info("coordinator started",
		logx.String("node", c.cfg.NodeID),
		logx.Int("tasks", len(c.nodes)),
		logx.String("tiers", strings.Join(c.tiers, ",")),
		logx.Duration("tick", c.cfg.Tick))

	tk := time.NewTicker(c.cfg.Tick)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
		if _, err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error("tick failed", logx.Any("err", err))
		}
	}
}

// RunScaling evaluates the decision table on its own cadence until ctx
// is done. Returns immediately when scaling is disabled.
func (c *Coordinator) RunScaling(ctx context.Context) error {
	if !c.cfg.ScalingEnabled {
		c.log.Debug("scaling evaluation disabled")
		return nil
	}
	tk := time.NewTicker(c.cfg.EvaluateEvery)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tk.C:
		}
		c.EvaluateScaling(ctx)
	}
}

// RunReplays waits on the replay schedule and requests a plan replay on
// each fire. Returns immediately when no replay schedule is configured.
func (c *Coordinator) RunReplays(ctx context.Context) error {
	if c.replayTrig == nil {
		return nil
	}
	for {
		if err := c.replayTrig.Wait(ctx); err != nil {
			return nil
		}
		c.RequestReplay("schedule")
	}
}

// transition applies one state change and publishes it. Store failures
// are logged, not fatal: the next tick re-derives from whatever stuck.
func (c *Coordinator) transition(id string, next dag.State, reason string) {
	res, err := dag.Transition(c.store, id, next, reason)
	if err != nil {
		c.log.Error("state transition failed",
			logx.String("node", id), logx.String("state", string(next)), logx.Any("err", err))
		return
	}
	if !res.OK {
		c.log.Error("state transition rejected",
			logx.String("node", id), logx.String("state", string(next)), logx.String("error", res.Error))
		return
	}
	c.publish(EventNodeTransition, TransitionEvent{NodeID: id, State: string(next), Reason: reason})
}

func (c *Coordinator) releaseLane(id string) {
	c.mu.Lock()
	tier, ok := c.nodeTier[id]
	delete(c.nodeTier, id)
	c.mu.Unlock()
	if ok {
		c.lanes.Release(tier)
	}
}

func (c *Coordinator) publish(typ string, data any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (c *Coordinator) auditEvent(ctx context.Context, kind string, epoch uint64, subject, outcome, detail string, meta any) {
	if c.sink == nil {
		return
	}
	ev := audit.Event{
		Kind:    kind,
		NodeID:  c.cfg.NodeID,
		Epoch:   epoch,
		Subject: subject,
		Outcome: outcome,
		Detail:  detail,
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			ev.MetaJSON = string(b)
		}
	}
	if err := c.sink.Append(ctx, ev); err != nil {
		c.log.Warn("audit append failed", logx.String("kind", kind), logx.Any("err", err))
	}
}

func hintTiers(hints map[string]string) []string {
	set := map[string]struct{}{}
	for _, tier := range hints {
		if tier != "" {
			set[tier] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for tier := range set {
		out = append(out, tier)
	}
	sort.Strings(out)
	return out
}

func clampLanes(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func shortID() string {
	return uuid.NewString()[:8]
}
