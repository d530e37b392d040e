package api

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// ValidateSchedule checks a cron expression before it is sent to the task
// service.
func ValidateSchedule(expr string) error {
	if expr == "" {
		return fmt.Errorf("schedule is required")
	}
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("invalid cron expression %q", expr)
	}
	return nil
}

// NextRun returns the first run of expr strictly after now.
func NextRun(expr string, now time.Time) (time.Time, error) {
	if err := ValidateSchedule(expr); err != nil {
		return time.Time{}, err
	}
	next, err := gronx.NextTickAfter(expr, now, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("next run of %q: %w", expr, err)
	}
	return next, nil
}
