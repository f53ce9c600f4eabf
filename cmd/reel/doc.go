// Package main hosts the reel CLI.
//
// The Cobra command tree resolves configuration once, then either serves a
// playback engine to a host UI over the bridge, runs a headless scroll
// simulation against a fixture or live feed, or maintains the local media
// cache and watch-progress store. Behavior lives in the internal packages;
// commands here only wire them together and render results.
package main
