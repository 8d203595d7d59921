package planfile

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const samplePlanHCL = `
task "login" {
  command   = "browser run login.flow"
  domain    = "portal.example.com"
  tier_hint = "L0"
}

task "fetch-users" {
  command    = "browser run fetch_users.flow"
  domain     = "portal.example.com"
  tier_hint  = "L2"
  depends_on = ["login"]
}

task "report" {
  command    = "browser run report.flow"
  depends_on = ["fetch-users", "login"]
}
`

func writePlan(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestLoadHCLPlan(t *testing.T) {
	t.Parallel()
	p, err := Load(writePlan(t, "plan.hcl", samplePlanHCL))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if len(p.Tasks) != 3 {
		t.Fatalf("loaded %d tasks, want 3", len(p.Tasks))
	}
	if p.Tasks[0].ID != "login" || p.Tasks[1].ID != "fetch-users" || p.Tasks[2].ID != "report" {
		t.Fatalf("task order = %v, want declaration order", p.Tasks)
	}

	nodes := p.Nodes()
	if !reflect.DeepEqual(nodes[1].Dependencies, []string{"login"}) {
		t.Fatalf("fetch-users deps = %v, want [login]", nodes[1].Dependencies)
	}

	jobs := p.Jobs()
	if job := jobs["fetch-users"]; job.Domain != "portal.example.com" || job.Command != "browser run fetch_users.flow" {
		t.Fatalf("job = %+v, want domain and command from plan", job)
	}

	hints := p.TierHints()
	if hints["login"] != "L0" || hints["fetch-users"] != "L2" {
		t.Fatalf("TierHints = %v, want L0 and L2", hints)
	}
	if _, ok := hints["report"]; ok {
		t.Fatalf("TierHints includes report, want absent without a hint")
	}

	if tiers := p.Tiers(); !reflect.DeepEqual(tiers, []string{"L0", "L2"}) {
		t.Fatalf("Tiers = %v, want [L0 L2]", tiers)
	}
}

func TestHCLEnvInterpolation(t *testing.T) {
	t.Setenv("PLAN_TEST_TOKEN", "s3cr3t")
	src := `
task "sync" {
  command = "browser run sync.flow --token=${env.PLAN_TEST_TOKEN}"
}
`
	p, err := Parse("plan.hcl", []byte(src))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := p.Tasks[0].Command; !strings.Contains(got, "--token=s3cr3t") {
		t.Fatalf("Command = %q, want env value interpolated", got)
	}
}

func TestHCLUnknownEnvVar(t *testing.T) {
	t.Parallel()
	src := `
task "sync" {
  command = "run ${env.DEFINITELY_NOT_SET_ANYWHERE_42}"
}
`
	if _, err := Parse("plan.hcl", []byte(src)); err == nil {
		t.Fatalf("Parse succeeded with unknown env var, want error")
	}
}

func TestLoadJSONPlan(t *testing.T) {
	t.Parallel()
	src := `{
  "tasks": [
    {"id": "a", "command": "run a", "tier_hint": "L1"},
    {"id": "b", "command": "run b", "domain": "x.example", "depends_on": ["a"]}
  ]
}`
	p, err := Load(writePlan(t, "plan.json", src))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(p.Tasks) != 2 || p.Tasks[1].DependsOn[0] != "a" {
		t.Fatalf("Tasks = %+v, want two tasks with b depending on a", p.Tasks)
	}
}

func TestJSONUnknownFieldRejected(t *testing.T) {
	t.Parallel()
	src := `{"tasks": [{"id": "a", "command": "run", "depend_on": ["b"]}]}`
	if _, err := Parse("plan.json", []byte(src)); err == nil {
		t.Fatalf("Parse accepted unknown field, want error")
	}
}

func TestUnknownDependencyRejected(t *testing.T) {
	t.Parallel()
	src := `
task "a" {
  command    = "run a"
  depends_on = ["ghost"]
}
`
	_, err := Parse("plan.hcl", []byte(src))
	if err == nil {
		t.Fatalf("Parse succeeded with unknown dependency, want error")
	}
	if !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("error = %v, want the unknown node named", err)
	}
}

func TestDuplicateTaskIDRejected(t *testing.T) {
	t.Parallel()
	src := `
task "a" {
  command = "run once"
}

task "a" {
  command = "run twice"
}
`
	if _, err := Parse("plan.hcl", []byte(src)); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate task id error", err)
	}
}

func TestMissingCommandRejected(t *testing.T) {
	t.Parallel()
	if _, err := Parse("plan.hcl", []byte(`task "a" {}`)); err == nil {
		t.Fatalf("Parse accepted task without command, want error")
	}
	if _, err := Parse("plan.json", []byte(`{"tasks": [{"id": "a", "command": "  "}]}`)); err == nil {
		t.Fatalf("Parse accepted blank command, want error")
	}
}

func TestEmptyPlanRejected(t *testing.T) {
	t.Parallel()
	if _, err := Parse("plan.hcl", []byte("\n")); err == nil {
		t.Fatalf("Parse accepted empty plan, want error")
	}
	if _, err := Parse("plan.json", []byte(`{"tasks": []}`)); err == nil {
		t.Fatalf("Parse accepted empty task list, want error")
	}
}

func TestHCLSyntaxError(t *testing.T) {
	t.Parallel()
	if _, err := Parse("plan.hcl", []byte(`task "a" { command = `)); err == nil {
		t.Fatalf("Parse accepted broken HCL, want error")
	}
}
