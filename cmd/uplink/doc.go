// Package main hosts the Uplink CLI entrypoint and command graph.
//
// The Cobra-based command tree covers queue inspection and maintenance,
// enqueuing new uploads, configuration scaffolding, and notification checks.
// Commands operate directly on the shared SQLite queue database; the store's
// WAL journal lets them coexist with a running uplinkd, which notices changes
// on its next queue poll. Keep this package lean: add new functionality by
// extending the internal packages first, then surface it through dedicated
// commands or flags here.
package main
