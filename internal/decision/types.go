package decision

// Facts is a flat mapping of named counters for one evaluation window.
// A fact that is absent reads as zero.
type Facts map[string]int64

// Action names the scaling move a rule output requests.
type Action string

const (
	ActionScaleUp   Action = "scale_up"
	ActionScaleDown Action = "scale_down"
	ActionHold      Action = "hold"
)

// Op is a comparison operator inside a rule condition.
type Op string

const (
	OpEq  Op = "eq"
	OpGt  Op = "gt"
	OpGte Op = "gte"
	OpLt  Op = "lt"
	OpLte Op = "lte"
	OpIn  Op = "in"
)

// Predicate compares a single fact against a literal or a set.
type Predicate struct {
	Op    Op
	Value float64
	Set   []float64
}

// Eq matches facts equal to v.
func Eq(v int64) Predicate { return Predicate{Op: OpEq, Value: float64(v)} }

// Gt matches facts strictly greater than v.
func Gt(v int64) Predicate { return Predicate{Op: OpGt, Value: float64(v)} }

// Gte matches facts greater than or equal to v.
func Gte(v int64) Predicate { return Predicate{Op: OpGte, Value: float64(v)} }

// Lt matches facts strictly less than v.
func Lt(v int64) Predicate { return Predicate{Op: OpLt, Value: float64(v)} }

// Lte matches facts less than or equal to v.
func Lte(v int64) Predicate { return Predicate{Op: OpLte, Value: float64(v)} }

// In matches facts equal to any of vs.
func In(vs ...int64) Predicate {
	set := make([]float64, len(vs))
	for i, v := range vs {
		set[i] = float64(v)
	}
	return Predicate{Op: OpIn, Set: set}
}

func (p Predicate) matches(v int64) bool {
	f := float64(v)
	switch p.Op {
	case OpEq:
		return f == p.Value
	case OpGt:
		return f > p.Value
	case OpGte:
		return f >= p.Value
	case OpLt:
		return f < p.Value
	case OpLte:
		return f <= p.Value
	case OpIn:
		for _, s := range p.Set {
			if f == s {
				return true
			}
		}
		return false
	}
	return false
}

// Output is what a matching rule, or the table default, emits.
type Output struct {
	Action      Action `json:"action"`
	Reason      string `json:"reason"`
	TargetDelta int    `json:"target_delta"`
}

// Rule pairs a conjunction of conditions with an output. All conditions
// must hold for the rule to match; a rule with no conditions always
// matches.
type Rule struct {
	ID         string
	Conditions map[string]Predicate
	Output     Output
}

func (r Rule) matches(facts Facts) bool {
	for fact, p := range r.Conditions {
		if !p.matches(facts[fact]) {
			return false
		}
	}
	return true
}

// Table is an ordered rule list with a default output for when nothing
// matches. Tables are immutable once built; hot reloads swap the whole
// pointer.
type Table struct {
	Version       string
	Rules         []Rule
	DefaultOutput Output
}
