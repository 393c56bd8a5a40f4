// Package config loads, normalizes, and validates rollcall configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads an optional .env file beside the config,
// and applies ROLLCALL_* environment overrides. The Config type centralizes
// every knob the daemon and CLI need: the ledger location, the camera and
// capture cadence, the recognition endpoint, and token signing.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
