package job

import "errors"

var (
	// ErrJobNotFound is returned when a job id does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobLocked is returned when another worker is running the job
	ErrJobLocked = errors.New("job is locked by another worker")

	// ErrDuplicateJob is returned when a unique root job with the same name is still active
	ErrDuplicateJob = errors.New("unique job already active")
)
