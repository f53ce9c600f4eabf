// Package services defines shared utilities consumed by the engine components
// and their external collaborators.
//
// Key responsibilities:
//   - Context helpers that stamp feed item IDs, playback session IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failures from
//     the feed source, media fetcher, and cache classifiable with errors.Is.
//
// Use these helpers when wiring new collaborators so operational behaviour
// (error handling, observability, retries) stays uniform across the engine.
package services
