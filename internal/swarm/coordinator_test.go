package swarm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"swarmd/internal/audit"
	"swarmd/internal/dag"
	"swarmd/internal/decision"
	"swarmd/internal/eventbus"
	"swarmd/internal/lane"
	"swarmd/internal/lease"
	"swarmd/internal/rpa"
	logx "swarmd/pkg/logx"
)

// recordingRunner succeeds by default and fails each job id as many
// times as its fail count allows.
type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	fail map[string]int
}

func (r *recordingRunner) run(ctx context.Context, job rpa.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, job.ID)
	if r.fail[job.ID] > 0 {
		r.fail[job.ID]--
		return errors.New("boom")
	}
	return nil
}

func (r *recordingRunner) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.runs...)
}

func openLease(t *testing.T, path, nodeID string, ttl time.Duration) *lease.Manager {
	t.Helper()
	mgr, err := lease.Open(lease.Config{Backend: "file", Path: path, NodeID: nodeID, TTL: ttl}, logx.Nop())
	if err != nil {
		t.Fatalf("lease.Open error: %v", err)
	}
	return mgr
}

// twoNodePlan is the canonical a -> b graph used across tick tests.
func twoNodePlan() ([]dag.Node, map[string]rpa.Job) {
	nodes := []dag.Node{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}
	jobs := map[string]rpa.Job{
		"a": {ID: "a", Domain: "d1", Command: "run a"},
		"b": {ID: "b", Domain: "d1", Command: "run b"},
	}
	return nodes, jobs
}

func newTestCoordinator(t *testing.T, cfg Config, deps Deps, bus eventbus.Bus) *Coordinator {
	t.Helper()
	if cfg.NodeID == "" {
		cfg.NodeID = "test-node"
	}
	if cfg.Tick == 0 {
		cfg.Tick = time.Second
	}
	if deps.Pool == nil {
		deps.Pool = rpa.New(rpa.Policy{MaxConcurrentBrowsers: 2}, logx.Nop(), nil)
	}
	c, err := New(cfg, deps, logx.Nop(), bus)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return c
}

func TestTickRunsDagToCompletion(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	store := dag.NewMemoryStore()
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)
	ctx := context.Background()

	rep, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick 1 error: %v", err)
	}
	if rep.Outcome != lease.OutcomeAcquired || !rep.Leader || rep.Epoch != 1 {
		t.Fatalf("tick 1 = %+v, want acquired leader epoch 1", rep)
	}
	if rep.Frontier != 1 || rep.Claimed != 1 || rep.Succeeded != 1 {
		t.Fatalf("tick 1 = %+v, want frontier/claimed/succeeded 1", rep)
	}

	st, ok := store.Get("a")
	if !ok || st.State != dag.StateSuccess {
		t.Fatalf("a state = %+v, want success", st)
	}
	if st.TaskID == "" || st.Attempt != 1 || st.LeaderEpoch != 1 {
		t.Fatalf("a claim fields = %+v, want attempt 1 epoch 1", st)
	}
	if want := dag.BuildClaimKey(st.TaskID, 1, 1); st.ClaimKey != want {
		t.Fatalf("a claim key = %s, want %s", st.ClaimKey, want)
	}

	rep, err = c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick 2 error: %v", err)
	}
	if rep.Outcome != lease.OutcomeRenewed || rep.Claimed != 1 {
		t.Fatalf("tick 2 = %+v, want renewed with one claim", rep)
	}
	if st, _ := store.Get("b"); st.State != dag.StateSuccess {
		t.Fatalf("b state = %s, want success", st.State)
	}

	rep, err = c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick 3 error: %v", err)
	}
	if rep.Frontier != 0 || rep.Claimed != 0 {
		t.Fatalf("tick 3 = %+v, want idle", rep)
	}

	if got := runner.executed(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("executed = %v, want [a b]", got)
	}
}

func TestTickFollowerObservesOnly(t *testing.T) {
	t.Parallel()
	leasePath := filepath.Join(t.TempDir(), "lease.json")
	holder := openLease(t, leasePath, "holder", time.Minute)
	if _, err := holder.AcquireOrRenew(context.Background()); err != nil {
		t.Fatalf("holder acquire error: %v", err)
	}

	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	store := dag.NewMemoryStore()
	c := newTestCoordinator(t, Config{NodeID: "n2"}, Deps{
		Leases: openLease(t, leasePath, "n2", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)

	rep, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if rep.Outcome != lease.OutcomeFollower || rep.Leader {
		t.Fatalf("tick = %+v, want follower", rep)
	}
	if rep.Claimed != 0 || len(runner.executed()) != 0 {
		t.Fatalf("follower dispatched work: %+v, executed %v", rep, runner.executed())
	}
	if store.Len() != 0 {
		t.Fatalf("follower mutated state store: %v", store.Snapshot())
	}
}

func TestTickObserverMode(t *testing.T) {
	t.Parallel()
	mgr, err := lease.Open(lease.Config{Backend: "consul", NodeID: "n1", TTL: time.Minute}, logx.Nop())
	if err != nil {
		t.Fatalf("lease.Open error: %v", err)
	}

	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: mgr,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)

	rep, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if rep.Outcome != lease.OutcomeObserver || rep.Leader {
		t.Fatalf("tick = %+v, want observer_mode", rep)
	}
	if len(runner.executed()) != 0 {
		t.Fatalf("observer dispatched work: %v", runner.executed())
	}
}

func TestTickRequeuesStaleEpochClaims(t *testing.T) {
	t.Parallel()
	leasePath := filepath.Join(t.TempDir(), "lease.json")

	// The previous leader claimed "a" under epoch 1, then its lease
	// expired before the work finished.
	old := openLease(t, leasePath, "old-node", 30*time.Millisecond)
	snap, err := old.AcquireOrRenew(context.Background())
	if err != nil || snap.Epoch != 1 {
		t.Fatalf("old acquire = %+v, %v; want epoch 1", snap, err)
	}
	store := dag.NewMemoryStore()
	if _, err := dag.Claim(store, "a", "task-x", 1, 1); err != nil {
		t.Fatalf("seed claim error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	c := newTestCoordinator(t, Config{NodeID: "new-node"}, Deps{
		Leases: openLease(t, leasePath, "new-node", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)

	rep, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if rep.Outcome != lease.OutcomeAcquired || rep.Epoch != 2 {
		t.Fatalf("tick = %+v, want takeover at epoch 2", rep)
	}
	if rep.Requeued != 1 || rep.Claimed != 1 {
		t.Fatalf("tick = %+v, want one requeue and one claim", rep)
	}

	st, _ := store.Get("a")
	if st.State != dag.StateSuccess {
		t.Fatalf("a state = %s, want success", st.State)
	}
	if st.TaskID != "task-x" || st.Attempt != 2 || st.LeaderEpoch != 2 {
		t.Fatalf("a reclaim = %+v, want task-x attempt 2 epoch 2", st)
	}

	if got := c.facts.snapshot()[FactRestarted]; got != 1 {
		t.Fatalf("restarted_count = %d, want 1", got)
	}
}

func TestTickRequeuesOrphansFromSameEpoch(t *testing.T) {
	t.Parallel()
	store := dag.NewMemoryStore()
	// A previous incarnation of this node died mid-dispatch at epoch 1.
	if _, err := dag.Claim(store, "a", "task-y", 3, 1); err != nil {
		t.Fatalf("seed claim error: %v", err)
	}

	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)

	rep, err := c.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	if rep.Requeued != 1 {
		t.Fatalf("Requeued = %d, want 1", rep.Requeued)
	}
	st, _ := store.Get("a")
	if st.State != dag.StateSuccess || st.Attempt != 4 {
		t.Fatalf("a = %+v, want success at attempt 4", st)
	}
}

func TestFailedJobBlocksDependents(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{fail: map[string]int{"a": 10}}
	store := dag.NewMemoryStore()
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)
	ctx := context.Background()

	rep, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick 1 error: %v", err)
	}
	if rep.Failed != 1 || rep.Succeeded != 0 {
		t.Fatalf("tick 1 = %+v, want one failure", rep)
	}
	st, _ := store.Get("a")
	if st.State != dag.StateFailed || st.Reason == "" {
		t.Fatalf("a = %+v, want failed with reason", st)
	}

	rep, err = c.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick 2 error: %v", err)
	}
	if rep.Frontier != 0 || rep.Claimed != 0 {
		t.Fatalf("tick 2 = %+v, want empty frontier behind failed dep", rep)
	}
	if st, ok := store.Get("b"); ok && st.State != dag.StatePending && st.State != "" {
		t.Fatalf("b state = %s, want untouched", st.State)
	}

	if got := c.facts.snapshot()[FactFailed]; got != 1 {
		t.Fatalf("failed_count = %d, want 1", got)
	}
}

func TestReplayResetsTerminalNodes(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	runner := &recordingRunner{}
	store := dag.NewMemoryStore()
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Store:  store,
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: runner.run,
	}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Tick(ctx); err != nil {
			t.Fatalf("Tick error: %v", err)
		}
	}
	first, _ := store.Get("a")

	c.RequestReplay("test")
	rep, err := c.Tick(ctx)
	if err != nil {
		t.Fatalf("replay tick error: %v", err)
	}
	if rep.Replayed != 2 {
		t.Fatalf("Replayed = %d, want 2", rep.Replayed)
	}
	if rep.Claimed != 1 {
		t.Fatalf("Claimed = %d, want 1 (a runs first again)", rep.Claimed)
	}

	st, _ := store.Get("a")
	if st.State != dag.StateSuccess {
		t.Fatalf("a state = %s, want success", st.State)
	}
	if st.TaskID != first.TaskID {
		t.Fatalf("task id changed across replay: %s -> %s", first.TaskID, st.TaskID)
	}
	if st.Attempt != first.Attempt+1 {
		t.Fatalf("attempt = %d, want %d", st.Attempt, first.Attempt+1)
	}
	if got := runner.executed(); len(got) != 3 {
		t.Fatalf("executed = %v, want three runs", got)
	}
}

func TestRouteTierHonorsHintAndSaturation(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	lanes := lane.NewTracker(0.5)
	c := newTestCoordinator(t, Config{NodeID: "n1", Tiers: []string{"L0", "L1", "L2"}}, Deps{
		Leases:    openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Nodes:     nodes,
		Jobs:      jobs,
		TierHints: map[string]string{"a": "L2"},
		Lanes:     lanes,
		Runner:    (&recordingRunner{}).run,
	}, nil)

	// Cold start: nothing is saturated, the hint wins.
	if got := c.routeTier("a"); got != "L2" {
		t.Fatalf("routeTier cold = %s, want L2", got)
	}
	// No hint: first configured tier.
	if got := c.routeTier("b"); got != "L0" {
		t.Fatalf("routeTier no hint = %s, want L0", got)
	}

	// Saturate L2 (8 of 10 routed), leaving L0 and L1 below threshold.
	for i := 0; i < 8; i++ {
		lanes.RecordRouted("L2")
	}
	lanes.RecordRouted("L0")
	lanes.RecordRouted("L1")

	if !lanes.IsSaturated("L2") {
		t.Fatal("L2 should be saturated")
	}
	if got := c.routeTier("a"); got != "L0" {
		t.Fatalf("routeTier saturated hint = %s, want L0", got)
	}
}

func TestEvaluateScalingLifecycle(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	c := newTestCoordinator(t, Config{NodeID: "n1", MinLanes: 1, MaxLanes: 8}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: (&recordingRunner{}).run,
	}, nil)
	ctx := context.Background()

	if got := c.LaneTarget(); got != 1 {
		t.Fatalf("initial LaneTarget = %d, want 1", got)
	}

	// Saturated window with no starts: scale up.
	c.facts.add(FactParallelGroupsAtLimit, 1)
	dec := c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionScaleUp || dec.Reason != "capacity_saturated" {
		t.Fatalf("decision 1 = %+v, want scale_up capacity_saturated", dec.Output)
	}
	if got := c.LaneTarget(); got != 2 {
		t.Fatalf("LaneTarget after scale up = %d, want 2", got)
	}

	// Next window sees the scale event: cooldown hold.
	dec = c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionHold || dec.Reason != "cooldown" {
		t.Fatalf("decision 2 = %+v, want hold cooldown", dec.Output)
	}

	// Quiet window: stable hold.
	dec = c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionHold || dec.Reason != "stable" {
		t.Fatalf("decision 3 = %+v, want hold stable", dec.Output)
	}

	// Failures scale back down.
	c.facts.add(FactFailed, 1)
	dec = c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionScaleDown || dec.Reason != "failures_present" {
		t.Fatalf("decision 4 = %+v, want scale_down failures_present", dec.Output)
	}
	if got := c.LaneTarget(); got != 1 {
		t.Fatalf("LaneTarget after scale down = %d, want 1", got)
	}

	dec = c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionHold || dec.Reason != "cooldown" {
		t.Fatalf("decision 5 = %+v, want hold cooldown", dec.Output)
	}

	if dec.Trace.DecisionTableVersion != decision.DefaultTableVersion {
		t.Fatalf("trace version = %s, want %s", dec.Trace.DecisionTableVersion, decision.DefaultTableVersion)
	}
	if dec.Trace.InputsHash == "" {
		t.Fatal("trace inputs hash is empty")
	}
}

func TestEvaluateScalingClampsTarget(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	c := newTestCoordinator(t, Config{NodeID: "n1", Tiers: []string{"t1", "t2", "t3"}, MinLanes: 1, MaxLanes: 2}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: (&recordingRunner{}).run,
	}, nil)
	ctx := context.Background()

	// Three tiers clamp down to the max of 2 at startup.
	if got := c.LaneTarget(); got != 2 {
		t.Fatalf("initial LaneTarget = %d, want 2", got)
	}

	c.facts.add(FactParallelGroupsAtLimit, 1)
	dec := c.EvaluateScaling(ctx)
	if dec.Action != decision.ActionScaleUp {
		t.Fatalf("decision = %+v, want scale_up", dec.Output)
	}
	if got := c.LaneTarget(); got != 2 {
		t.Fatalf("LaneTarget = %d, want clamped at 2", got)
	}
}

func TestTickPublishesEvents(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	bus := eventbus.New()
	claims, unsubClaims := bus.SubscribeTypes(8, EventNodeClaimed)
	defer unsubClaims()
	ticks, unsubTicks := bus.SubscribeTypes(8, EventTickComplete)
	defer unsubTicks()

	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Nodes:  nodes,
		Jobs:   jobs,
		Runner: (&recordingRunner{}).run,
	}, bus)

	if _, err := c.Tick(context.Background()); err != nil {
		t.Fatalf("Tick error: %v", err)
	}

	ev := waitEvent(t, claims)
	claim, ok := ev.Data.(ClaimEvent)
	if !ok {
		t.Fatalf("claim payload type = %T", ev.Data)
	}
	if claim.NodeID != "a" || claim.Attempt != 1 || claim.Epoch != 1 || claim.Tier == "" {
		t.Fatalf("claim = %+v, want node a attempt 1 epoch 1 with tier", claim)
	}

	ev = waitEvent(t, ticks)
	rep, ok := ev.Data.(TickReport)
	if !ok {
		t.Fatalf("tick payload type = %T", ev.Data)
	}
	if rep.Claimed != 1 || rep.Succeeded != 1 {
		t.Fatalf("tick report = %+v, want one claimed and succeeded", rep)
	}
}

func TestTickWritesAuditTrail(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	sink, err := audit.Open(audit.Config{Driver: "file", Path: filepath.Join(dir, "swarm")}, logx.Nop())
	if err != nil {
		t.Fatalf("audit.Open error: %v", err)
	}

	nodes, jobs := twoNodePlan()
	c := newTestCoordinator(t, Config{NodeID: "n1"}, Deps{
		Leases: openLease(t, filepath.Join(dir, "lease.json"), "n1", time.Minute),
		Nodes:  nodes,
		Jobs:   jobs,
		Audit:  sink,
		Runner: (&recordingRunner{}).run,
	}, nil)
	ctx := context.Background()

	if _, err := c.Tick(ctx); err != nil {
		t.Fatalf("Tick error: %v", err)
	}
	c.EvaluateScaling(ctx)
	if err := sink.Close(); err != nil {
		t.Fatalf("sink close error: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "swarm.audit.jsonl"))
	if err != nil {
		t.Fatalf("read audit file: %v", err)
	}
	got := string(b)
	for _, kind := range []string{EventLeaseAcquired, EventNodeClaimed, EventScaleDecision} {
		if !strings.Contains(got, kind) {
			t.Fatalf("audit trail missing %q:\n%s", kind, got)
		}
	}
}

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	mgr := openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute)
	pool := rpa.New(rpa.Policy{MaxConcurrentBrowsers: 1}, logx.Nop(), nil)

	tests := []struct {
		name string
		deps Deps
	}{
		{name: "missing lease manager", deps: Deps{Nodes: nodes, Jobs: jobs, Pool: pool}},
		{name: "missing pool", deps: Deps{Leases: mgr, Nodes: nodes, Jobs: jobs}},
		{name: "no nodes", deps: Deps{Leases: mgr, Pool: pool, Jobs: jobs}},
		{
			name: "unknown dependency",
			deps: Deps{
				Leases: mgr, Pool: pool,
				Nodes: []dag.Node{{ID: "x", Dependencies: []string{"ghost"}}},
				Jobs:  map[string]rpa.Job{"x": {ID: "x", Command: "run"}},
			},
		},
		{
			name: "node without job",
			deps: Deps{
				Leases: mgr, Pool: pool,
				Nodes: []dag.Node{{ID: "x"}},
				Jobs:  map[string]rpa.Job{},
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(Config{NodeID: "n1"}, tt.deps, logx.Nop(), nil); err == nil {
				t.Fatal("New = nil error, want error")
			}
		})
	}
}

func TestNewRejectsBadReplaySchedule(t *testing.T) {
	t.Parallel()
	nodes, jobs := twoNodePlan()
	deps := Deps{
		Leases: openLease(t, filepath.Join(t.TempDir(), "lease.json"), "n1", time.Minute),
		Nodes:  nodes,
		Jobs:   jobs,
		Pool:   rpa.New(rpa.Policy{MaxConcurrentBrowsers: 1}, logx.Nop(), nil),
	}
	if _, err := New(Config{NodeID: "n1", Replay: "garbage-spec"}, deps, logx.Nop(), nil); err == nil {
		t.Fatal("New = nil error, want error for bad replay schedule")
	}
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}
