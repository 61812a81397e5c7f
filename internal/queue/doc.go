// Package queue persists upload jobs and enforces their state machine.
//
// The Store is backed by SQLite and is the single durable source of truth for
// queue state. Every transition is a compare-and-swap on the current status,
// so concurrent workers can never double-claim a job and terminal states are
// final. Jobs are partitioned by owner scope; queries never cross scopes.
package queue
