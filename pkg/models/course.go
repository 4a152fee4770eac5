package models

import "time"

// Course represents a Canvas course the user is enrolled in
type Course struct {
	ID    int64      `json:"id"`
	Name  string     `json:"name"`
	EndAt *time.Time `json:"end_at"`
}

// Module is a grouping of content items within a course
type Module struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ModuleItem is one entry within a module. Only items of type
// ModuleItemFile reference a downloadable file through ContentID.
type ModuleItem struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	ContentID int64  `json:"content_id"`
}

// ModuleItemFile is the module item type that points at a course file
const ModuleItemFile = "File"

// Folder is a node of the course file storage tree. FullName is the
// slash separated path, rooted at "course files".
type Folder struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// File is a remote course file
type File struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	URL         string    `json:"url"`
	Size        int64     `json:"size"`
	Locked      bool      `json:"locked"`
	UpdatedAt   time.Time `json:"updated_at"`
}
