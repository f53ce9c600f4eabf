// Package sim drives an engine without a UI. Element stands in for a host
// media element and Run scrolls a virtual viewport through the feed,
// reporting readiness, progress, and completion the way a real host would.
// The `reel simulate` command renders the resulting timeline.
package sim
