// Package config loads, normalizes, and validates tunnelctl configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// TUNNELCTL_PORT and TUNNELCTL_SECRET. The Config type centralizes every knob
// the protocol client and CLI need: how to reach the control service, call
// timeouts, ping measurement parameters, logging, and metrics.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
