// Package logs reads reel's structured logs for the CLI.
//
// A running `reel serve` exposes recent events through the bridge's
// /api/logs endpoint; StreamClient queries it, including long-poll follow
// mode. When no bridge is reachable, Stream falls back to the JSON log file
// the server appends to, decoding each line into the same LogEvent shape so
// item and component filters behave identically on both paths.
package logs
