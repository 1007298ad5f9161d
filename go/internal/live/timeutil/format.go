package timeutil

import (
	"fmt"
	"time"
)

// FormatPlaybackLabel renders a playback offset as "m:ss" (or "h:mm:ss" past
// the hour) for the video progress overlay.
func FormatPlaybackLabel(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// ClampFraction forces a playback fraction into [0, 1].
func ClampFraction(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// FractionOf returns the elapsed offset as a fraction of total, clamped to
// [0, 1]. A zero or negative total yields 0.
func FractionOf(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	return ClampFraction(float64(elapsed) / float64(total))
}

// OffsetAt inverts FractionOf: the playback offset at fraction f of total.
func OffsetAt(f float64, total time.Duration) time.Duration {
	if total <= 0 {
		return 0
	}
	return time.Duration(ClampFraction(f) * float64(total))
}
