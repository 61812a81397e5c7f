// Package logging builds the slog loggers used across Uplink.
//
// It provides console and JSON handlers, attribute helpers with standard
// field names, component-scoped loggers, and a progress sampler that keeps
// upload progress from flooding log output and the event bus.
package logging
