package viewport

import "math"

// Defaults for activation.
const (
	DefaultThreshold = 0.5
	DefaultMargin    = 0.05
)

// Sample is the visible fraction of one mounted item, in [0, 1].
type Sample struct {
	ItemID string  `json:"item_id"`
	Ratio  float64 `json:"ratio"`
}

// Select returns the item that should be active, or "" for none.
//
// Candidates are samples at or above threshold; NaN ratios never qualify. The highest ratio wins and
// ties go to the lowest list position (position returns false for unknown
// ids, which sort last). The current item keeps activation unless it stops
// being a candidate or a challenger's ratio strictly exceeds the current
// ratio plus margin.
func Select(samples []Sample, current string, position func(string) (int, bool), threshold, margin float64) string {
	var (
		best       string
		bestRatio  float64
		bestPos    int
		currentOK  bool
		currentVal float64
	)
	for _, s := range samples {
		if s.ItemID == "" || math.IsNaN(s.Ratio) || s.Ratio < threshold {
			continue
		}
		ratio := clamp(s.Ratio)
		if s.ItemID == current {
			currentOK = true
			currentVal = ratio
		}
		pos := rank(position, s.ItemID)
		if best == "" || ratio > bestRatio || (ratio == bestRatio && (pos < bestPos || (pos == bestPos && s.ItemID < best))) {
			best, bestRatio, bestPos = s.ItemID, ratio, pos
		}
	}
	if best == "" {
		return ""
	}
	if currentOK && best != current && bestRatio <= currentVal+margin {
		return current
	}
	return best
}

func rank(position func(string) (int, bool), id string) int {
	if position == nil {
		return int(^uint(0) >> 1)
	}
	if pos, ok := position(id); ok {
		return pos
	}
	return int(^uint(0) >> 1)
}

func clamp(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
