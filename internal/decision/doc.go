// Package decision evaluates scaling facts against an ordered rule table.
//
// Rules are scanned in declaration order and the first rule whose
// conditions all hold wins. Every evaluation carries a trace with the
// table version, the matched rule ids and a stable hash of the input
// facts, so a decision can be replayed from the audit log.
package decision
