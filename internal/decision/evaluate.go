package decision

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Trace records how a decision was reached.
type Trace struct {
	DecisionTableVersion string   `json:"decision_table_version"`
	MatchedRuleIDs       []string `json:"matched_rule_ids"`
	InputsHash           string   `json:"inputs_hash"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Output
	Trace Trace `json:"decision_trace"`
}

// Evaluate scans the table's rules in order and returns the first match's
// output, or the default output when no rule matches. A nil table behaves
// like Default().
func (t *Table) Evaluate(facts Facts) Decision {
	if t == nil {
		t = Default()
	}
	trace := Trace{
		DecisionTableVersion: t.Version,
		MatchedRuleIDs:       []string{},
		InputsHash:           InputsHash(facts),
	}
	for _, r := range t.Rules {
		if !r.matches(facts) {
			continue
		}
		trace.MatchedRuleIDs = append(trace.MatchedRuleIDs, r.ID)
		return Decision{Output: r.Output, Trace: trace}
	}
	return Decision{Output: t.DefaultOutput, Trace: trace}
}

// InputsHash returns the hex SHA-256 of the facts serialized as
// key-sorted JSON, so identical fact sets always hash the same.
func InputsHash(facts Facts) string {
	if facts == nil {
		facts = Facts{}
	}
	raw, err := json.Marshal(facts)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
