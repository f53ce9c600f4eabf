// Package logging builds the structured slog loggers used across Reel.
//
// Loggers come in two formats: a human-oriented console layout and JSON for
// machine ingestion. Component loggers carry a "component" attribute, and
// WithContext decorates a logger with item, session, and request identifiers
// pulled from the context. StreamHub keeps a bounded ring of recent log
// events so the bridge can tail them for connected hosts.
package logging
