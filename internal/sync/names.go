package sync

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

// CourseFilesRoot is the name of the root folder of a course's file tree
const CourseFilesRoot = "course files"

var (
	// illegalChars cannot appear in file names on at least one supported OS
	illegalChars = regexp.MustCompile(`[<>:"|\\/?*]`)

	// courseCodePattern picks the course code out of names such as
	// "2026S1 COMP-1010 Introduction to Programming"
	courseCodePattern = regexp.MustCompile(`\w\S+-\S+\w`)
)

// Sanitize makes name safe to use as a single path element. Each illegal
// character becomes a space, then surrounding whitespace and dots are
// trimmed. A name with nothing left becomes "_".
func Sanitize(name string) string {
	name = illegalChars.ReplaceAllString(name, " ")
	name = strings.TrimFunc(name, func(r rune) bool {
		return r == '.' || unicode.IsSpace(r)
	})
	if name == "" {
		return "_"
	}
	return name
}

// DisplayName shortens a course name to its course code, with dashes
// replaced by spaces. Names without a code are returned unchanged.
func DisplayName(courseName string) string {
	code := courseCodePattern.FindString(courseName)
	if code == "" {
		return courseName
	}
	return strings.ReplaceAll(code, "-", " ")
}

// FolderPath maps a folder's full name onto a relative local path. Only
// folders below CourseFilesRoot are mirrored; ok is false for the rest. The
// root folder itself maps to ".".
func FolderPath(fullName string) (path string, ok bool) {
	parts := strings.Split(fullName, "/")
	if parts[0] != CourseFilesRoot {
		return "", false
	}

	elems := []string{"."}
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		elems = append(elems, Sanitize(part))
	}
	return filepath.Join(elems...), true
}
