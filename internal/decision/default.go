package decision

// DefaultTableVersion marks decisions made by the built-in table.
const DefaultTableVersion = "builtin/v1"

// Default returns the built-in table used when no external table is
// configured or the configured one is structurally invalid. Priority
// order: failures first, then capacity saturation, then cooldowns after
// a recent scale move.
func Default() *Table {
	return &Table{
		Version: DefaultTableVersion,
		Rules: []Rule{
			{
				ID:         "failures_present",
				Conditions: map[string]Predicate{"failed_count": Gt(0)},
				Output:     Output{Action: ActionScaleDown, Reason: "failures_present", TargetDelta: -1},
			},
			{
				ID: "capacity_saturated",
				Conditions: map[string]Predicate{
					"parallel_groups_at_limit": Gt(0),
					"started_count":            Eq(0),
					"restarted_count":          Eq(0),
				},
				Output: Output{Action: ActionScaleUp, Reason: "capacity_saturated", TargetDelta: 1},
			},
			{
				ID:         "cooldown_after_scale_down",
				Conditions: map[string]Predicate{"scaled_down_count": Gt(0)},
				Output:     Output{Action: ActionHold, Reason: "cooldown"},
			},
			{
				ID:         "cooldown_after_scale_up",
				Conditions: map[string]Predicate{"scaled_up_count": Gt(0)},
				Output:     Output{Action: ActionHold, Reason: "cooldown"},
			},
		},
		DefaultOutput: Output{Action: ActionHold, Reason: "stable"},
	}
}
