package lease

// Package lease elects a single coordinator among racing swarmd
// processes without an external consensus service.
//
// The lease is one small JSON record per coordination domain. Its epoch
// is the fencing token every downstream claim carries: it never
// decreases, and it moves forward only when leadership changes hands.
