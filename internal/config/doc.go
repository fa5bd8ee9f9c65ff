// Package config loads, normalizes, and validates imgconv configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the IMGCONV_LOG_LEVEL environment
// fallback. The Config type centralizes every knob the conversion session and
// CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
