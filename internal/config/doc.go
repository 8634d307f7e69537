// Package config loads, normalizes, and validates captioner configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, overlays .env files, and honours environment
// fallbacks such as OPENAI_API_KEY and CAPTIONER_COORDINATOR_URL. The Config
// type centralizes every knob the daemon and CLI need, from the coordinator
// hub address to translation backends.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
