// Package contentcache keeps downloaded media payloads on local disk so the
// active feed item can play from a file instead of the network.
//
// Entries are content addressed: the payload for item id X lives at
// sha256(X).media with a small JSON sidecar recording the id and timestamps.
// Writes go to a temp file first and are renamed into place, so readers only
// ever observe complete payloads.
//
// # Size Management
//
// The cache enforces two constraints: a byte budget (cache.max_mib) and a
// free-space floor on the underlying volume (cache.free_space_floor). When
// either is exceeded the least recently used entries are evicted until both
// hold again. Entries with a live Handle are pinned and never evicted.
//
// Handles are scoped resources: callers Release them on unmount, and Clear
// revokes every outstanding handle before deleting files.
package contentcache
