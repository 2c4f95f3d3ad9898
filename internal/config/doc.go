// Package config loads, normalizes, and validates Shuttle configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// FILE_LIFETIME and PORT. The Config type centralizes every knob the daemon and
// CLI need so the artifact store, fetch engine and retention sweeper are
// configured in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
