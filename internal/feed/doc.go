// Package feed owns the ordered, paginated list of clips shown in the reel.
//
// A Sequencer pulls pages from a PageSource by opaque cursor, merges them
// with id dedup, and reports when the active position is close enough to the
// tail that another page should be requested. Concurrent requests for one
// cursor share a single fetch. Failed fetches surface as *FetchError and are
// never retried internally; the next request for the same cursor simply
// tries again.
package feed
