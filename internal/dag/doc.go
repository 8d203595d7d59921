package dag

// Package dag tracks task dependencies and claims work
// exactly-once-per-attempt under replay.
//
// The graph itself is immutable once validated. All scheduling state
// lives in a StateStore and is mutated only through Claim and
// Transition, so every change is reason-tagged, timestamped, and fenced
// by the leader epoch it was made under.
