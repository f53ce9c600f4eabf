// Package bridge serves an engine to a host UI over local HTTP and a
// WebSocket.
//
// The JSON endpoints expose status, the loaded items, the cache, recent logs,
// and the user inputs (visibility, gestures, taps, pagination). The /ws
// channel carries engine events and media commands to the host and media
// callbacks (mounted, ready, ended, error, time) back to the engine. Each
// item the host mounts over a connection is driven through a RemoteElement.
package bridge
