package testsupport

import "reel/internal/playback"

// ManualScheduler is the virtual playback clock tests drive with Advance.
type ManualScheduler = playback.VirtualClock

// NewManualScheduler returns a scheduler at time zero.
func NewManualScheduler() *ManualScheduler {
	return playback.NewVirtualClock()
}
