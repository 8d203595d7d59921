package planfile

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

type hclPlan struct {
	Tasks []hclTask `hcl:"task,block"`
}

type hclTask struct {
	ID        string   `hcl:"id,label"`
	Command   string   `hcl:"command"`
	Domain    string   `hcl:"domain,optional"`
	TierHint  string   `hcl:"tier_hint,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
}

func parseHCL(filename string, src []byte) ([]Task, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("plan %s: %w", filename, diags)
	}

	var doc hclPlan
	if diags := gohcl.DecodeBody(file.Body, evalContext(), &doc); diags.HasErrors() {
		return nil, fmt.Errorf("plan %s: %w", filename, diags)
	}

	tasks := make([]Task, len(doc.Tasks))
	for i, t := range doc.Tasks {
		tasks[i] = Task{
			ID:        t.ID,
			Command:   t.Command,
			Domain:    t.Domain,
			TierHint:  t.TierHint,
			DependsOn: t.DependsOn,
		}
	}
	return tasks, nil
}

// evalContext exposes the process environment to plan expressions as the
// env object, so commands can interpolate tokens without hardcoding them.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = cty.StringVal(v)
	}

	vars := map[string]cty.Value{"env": cty.EmptyObjectVal}
	if len(env) > 0 {
		vars["env"] = cty.ObjectVal(env)
	}
	return &hcl.EvalContext{Variables: vars}
}
