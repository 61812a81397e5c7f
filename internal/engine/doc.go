// Package engine runs the upload queue for a single owner scope: it accepts
// enqueue, retry, and cancel requests, schedules pending jobs onto a bounded
// pool of upload workers, applies the retry policy to failed attempts, and
// broadcasts every state change on the event bus. All state lives in the
// queue store; the engine rehydrates from it at construction so interrupted
// uploads survive a process restart.
package engine
