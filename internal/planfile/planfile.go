package planfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"swarmd/internal/dag"
	"swarmd/internal/rpa"
)

// Task is one unit of work declared by a plan.
type Task struct {
	ID        string
	Command   string
	Domain    string
	TierHint  string
	DependsOn []string
}

// Plan is the validated set of tasks loaded from one file.
type Plan struct {
	Tasks []Task
}

// Load reads and validates a plan from path. Files ending in .json use
// the JSON shape; everything else is parsed as HCL.
func Load(path string) (*Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, src)
}

// Parse decodes plan source held in memory. The filename picks the
// syntax and shows up in diagnostics.
func Parse(filename string, src []byte) (*Plan, error) {
	var (
		tasks []Task
		err   error
	)
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		tasks, err = parseJSON(filename, src)
	} else {
		tasks, err = parseHCL(filename, src)
	}
	if err != nil {
		return nil, err
	}

	p := &Plan{Tasks: tasks}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Plan) validate() error {
	if len(p.Tasks) == 0 {
		return errors.New("plan: no tasks declared")
	}
	seen := make(map[string]struct{}, len(p.Tasks))
	for _, t := range p.Tasks {
		if strings.TrimSpace(t.ID) == "" {
			return errors.New("plan: task id must not be empty")
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("plan: duplicate task id %q", t.ID)
		}
		seen[t.ID] = struct{}{}
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("plan: task %q has no command", t.ID)
		}
	}

	if errs := dag.Validate(p.Nodes()); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("plan: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Nodes returns the dependency graph vertices in declaration order.
func (p *Plan) Nodes() []dag.Node {
	nodes := make([]dag.Node, len(p.Tasks))
	for i, t := range p.Tasks {
		nodes[i] = dag.Node{ID: t.ID, Dependencies: append([]string(nil), t.DependsOn...)}
	}
	return nodes
}

// Jobs maps node ids to runnable job descriptors.
func (p *Plan) Jobs() map[string]rpa.Job {
	jobs := make(map[string]rpa.Job, len(p.Tasks))
	for _, t := range p.Tasks {
		jobs[t.ID] = rpa.Job{ID: t.ID, Domain: t.Domain, Command: t.Command}
	}
	return jobs
}

// TierHints maps node ids to their declared routing tier. Tasks without
// a hint are absent.
func (p *Plan) TierHints() map[string]string {
	hints := make(map[string]string, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.TierHint != "" {
			hints[t.ID] = t.TierHint
		}
	}
	return hints
}

// Tiers returns the distinct tier hints in sorted order.
func (p *Plan) Tiers() []string {
	set := map[string]struct{}{}
	for _, t := range p.Tasks {
		if t.TierHint != "" {
			set[t.TierHint] = struct{}{}
		}
	}
	tiers := make([]string, 0, len(set))
	for tier := range set {
		tiers = append(tiers, tier)
	}
	sort.Strings(tiers)
	return tiers
}
