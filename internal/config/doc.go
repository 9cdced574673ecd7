// Package config loads, normalizes, and validates rmcloud configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RMCLOUD_API_TOKEN and RMCLOUD_CONVERTER. The Config type centralizes every
// knob the daemon and CLI need: listener and TLS settings, the artifact cache,
// the converter command, session expiry, and upstream cloud endpoints.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
