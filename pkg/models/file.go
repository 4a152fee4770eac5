package models

import "time"

// File status values stored in the ledger
const (
	StatusDownloaded = "downloaded"
	StatusFailed     = "failed"
)

// FileRecord is one ledger entry for a file handled by a sync run
type FileRecord struct {
	Course    string
	LocalPath string
	RemoteID  int64
	Size      int64
	Status    string
	LastError string
	RunID     string
	SyncedAt  time.Time
	BackedUp  bool
}
