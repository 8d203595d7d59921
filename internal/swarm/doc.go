// Package swarm is the coordination control loop.
//
// Each tick the coordinator acquires or renews the leader lease. While
// leader it derives the ready frontier from the task graph, routes each
// ready node to an execution tier using lane occupancy, claims the node
// with a fencing token bound to the current lease epoch, dispatches the
// claimed batch to the bounded job scheduler and folds the outcomes back
// into node state. Followers and observers tick too but only watch.
//
// Periodically the accumulated run counters are evaluated against the
// scaling decision table and the desired lane target moves within its
// configured bounds. Lease takeovers, claims and scale decisions are
// appended to the audit sink and published on the event bus.
package swarm
