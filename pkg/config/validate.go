package config

import (
	"fmt"
	"time"
)

// ValidatePositiveDuration validates that a duration is greater than zero.
//
// This is used for window, timeout, and interval validation where a
// non-zero, positive value is required.
func ValidatePositiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %v", d)
	}
	return nil
}

// ValidateHour validates that h is a valid hour of day (0..23).
func ValidateHour(h int) error {
	if h < 0 || h > 23 {
		return fmt.Errorf("hour must be in 0..23, got %d", h)
	}
	return nil
}
