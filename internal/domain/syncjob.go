package domain

import "time"

// SyncJobState is the observable state of one registered sync job. It lives
// in memory only and is rebuilt when the scheduler starts.
type SyncJobState struct {
	Name string

	// Interval is the fixed period for interval jobs; zero for cron jobs.
	Interval time.Duration
	// CronSpec is the cron expression for cron jobs; empty for interval jobs.
	CronSpec string

	LastRun time.Time
	NextRun time.Time
	Running bool

	LastError string
	Runs      int64
	Skips     int64
}
