package services

import (
	"fmt"
	"time"

	"dams-sync/internal/models"
)

// ResolveTimeWindow returns period timesteps spaced by frequency and ending
// at anchor floored to rounding. With reverse set the newest step comes
// first, otherwise the oldest.
func ResolveTimeWindow(anchor time.Time, period int, frequency, rounding time.Duration, reverse bool) ([]time.Time, error) {
	if period <= 0 {
		return nil, fmt.Errorf("time period must be positive, got %d", period)
	}
	if frequency <= 0 || rounding <= 0 {
		return nil, fmt.Errorf("time frequency and rounding must be positive")
	}

	end := anchor.UTC().Truncate(rounding)

	window := make([]time.Time, period)
	for i := 0; i < period; i++ {
		step := end.Add(-time.Duration(i) * frequency)
		if reverse {
			window[i] = step
		} else {
			window[period-1-i] = step
		}
	}

	return window, nil
}

// QueryWindow expands a timestep into the source time range read for it.
// Every range ends at the step itself.
func QueryWindow(step time.Time, mode models.TimeMode) (from, to time.Time) {
	to = step.UTC()
	switch mode {
	case models.TimeModeDaily:
		return to.Add(-24 * time.Hour), to
	default:
		return to.Add(-time.Hour), to
	}
}
