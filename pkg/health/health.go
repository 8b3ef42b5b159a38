package health

import "time"

// Result is the outcome of one health check attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}
