package models

import "time"

// Stats represents ledger statistics for one course
type Stats struct {
	Course          string
	DownloadedFiles int64
	DownloadedSize  int64
	FailedFiles     int64
	BackedUpFiles   int64
	LastSyncedAt    time.Time
}

// Run summarises one sync run
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Downloaded int64
	Skipped    int64
	Failed     int64
}
