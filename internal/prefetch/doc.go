// Package prefetch primes the content cache with the items just ahead of the
// active one.
//
// A Prefetcher keeps a look-ahead window of upcoming items queued for
// download, cancels work that falls outside the retention window as the user
// scrolls, and backfills the active item after a cache miss. Downloads run on
// a bounded worker pool and pause while the active item's own load holds the
// foreground.
package prefetch
