// Package config loads, normalizes, and validates Uplink configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// UPLINK_AUTH_TOKEN. The Config type centralizes every knob the daemon and CLI
// need: upload endpoint credentials, worker concurrency, retry/backoff bounds,
// and retention policy.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
