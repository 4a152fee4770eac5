package models

import (
	"fmt"
	"strings"
)

// Credentials holds the Canvas API endpoint and access token
type Credentials struct {
	APIURL string `json:"API_URL"`
	APIKey string `json:"API_KEY"`
}

// SyncMode selects how a course is mirrored
type SyncMode string

const (
	// SyncModules mirrors the course module structure
	SyncModules SyncMode = "modules"
	// SyncFiles mirrors the course file storage tree
	SyncFiles SyncMode = "files"
)

// ParseSyncMode parses a sync mode, ignoring case
func ParseSyncMode(s string) (SyncMode, error) {
	switch mode := SyncMode(strings.ToLower(s)); mode {
	case SyncModules, SyncFiles:
		return mode, nil
	}
	return "", fmt.Errorf("unknown sync mode %q", s)
}
