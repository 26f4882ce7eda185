package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when a run is requested from a stopped trigger
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrRunInProgress is returned when a tick is requested while the previous one is still running
	ErrRunInProgress = errors.New("scheduled sync run already in progress")
)
