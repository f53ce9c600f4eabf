// Package config loads, normalizes, and validates Reel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REEL_FEED_URL and REEL_FEED_TOKEN. The Config type centralizes every knob
// the engine, bridge, and CLI need, so the feed source, viewport thresholds,
// playback timing, cache budget, and prefetch window are discovered in one
// pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
