package domain

import "time"

// UsageLog records the work done for one succeeded job.
type UsageLog struct {
	UserID          string
	JobID           string
	Outputs         int
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
