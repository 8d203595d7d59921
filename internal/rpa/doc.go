package rpa

// Package rpa runs batches of browser-automation jobs under two
// simultaneous constraints: a global concurrency cap and per-domain
// start pacing. Transient failures retry with bounded exponential
// backoff.
//
// The scheduler owns the only true internal concurrency in swarmd: a
// bounded pool of workers. Everything upstream of it (lease, dag,
// lanes, decisions) is pure functions driven by the coordinator tick.
