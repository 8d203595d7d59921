package decision

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Parse decodes an external decision table. Malformed rule entries are
// filtered out individually; the error cases are structural (the document
// is not an object, rules is not a list, or no valid rule survives
// filtering). Callers fall back to Default() on error.
func Parse(data []byte) (*Table, error) {
	var doc struct {
		Version       any             `json:"version"`
		Rules         json.RawMessage `json:"rules"`
		DefaultOutput *Output         `json:"default_output"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decision table: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(doc.Rules, &entries); err != nil {
		return nil, errors.New("decision table: rules is not a list")
	}

	rules := make([]Rule, 0, len(entries))
	for _, raw := range entries {
		rule, ok := parseRule(raw)
		if !ok {
			continue
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, errors.New("decision table: no valid rules")
	}

	tbl := &Table{
		Version:       versionString(doc.Version),
		Rules:         rules,
		DefaultOutput: Output{Action: ActionHold, Reason: "stable"},
	}
	if doc.DefaultOutput != nil {
		tbl.DefaultOutput = *doc.DefaultOutput
	}
	return tbl, nil
}

func parseRule(raw json.RawMessage) (Rule, bool) {
	var doc struct {
		ID         string                     `json:"rule_id"`
		Conditions map[string]json.RawMessage `json:"conditions"`
		Output     *Output                    `json:"output"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Rule{}, false
	}
	if doc.ID == "" || doc.Conditions == nil || doc.Output == nil || doc.Output.Action == "" {
		return Rule{}, false
	}

	conds := make(map[string]Predicate, len(doc.Conditions))
	for fact, rawPred := range doc.Conditions {
		p, ok := parsePredicate(rawPred)
		if !ok {
			return Rule{}, false
		}
		conds[fact] = p
	}
	return Rule{ID: doc.ID, Conditions: conds, Output: *doc.Output}, true
}

// parsePredicate accepts either an object with exactly one operator key
// or a bare number/boolean literal meaning equality.
func parsePredicate(raw json.RawMessage) (Predicate, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		if len(obj) != 1 {
			return Predicate{}, false
		}
		for op, val := range obj {
			switch Op(op) {
			case OpEq, OpGt, OpGte, OpLt, OpLte:
				f, ok := parseScalar(val)
				if !ok {
					return Predicate{}, false
				}
				return Predicate{Op: Op(op), Value: f}, true
			case OpIn:
				var rawSet []json.RawMessage
				if err := json.Unmarshal(val, &rawSet); err != nil {
					return Predicate{}, false
				}
				set := make([]float64, 0, len(rawSet))
				for _, rv := range rawSet {
					f, ok := parseScalar(rv)
					if !ok {
						return Predicate{}, false
					}
					set = append(set, f)
				}
				return Predicate{Op: OpIn, Set: set}, true
			default:
				return Predicate{}, false
			}
		}
	}

	f, ok := parseScalar(raw)
	if !ok {
		return Predicate{}, false
	}
	return Predicate{Op: OpEq, Value: f}, true
}

func parseScalar(raw json.RawMessage) (float64, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func versionString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
