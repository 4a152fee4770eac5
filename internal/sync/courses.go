package sync

import (
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

// ErrNoActiveCourses is returned when the user has no current enrollments
var ErrNoActiveCourses = errors.New("no enrolled courses found")

// NamedCourse is a course together with the display name used for its
// config entry and local directory
type NamedCourse struct {
	Name   string
	Course models.Course
}

// ActiveCourses returns the courses that have not ended at now. A course
// without an end date never ends.
func ActiveCourses(courses []models.Course, now time.Time) ([]models.Course, error) {
	var active []models.Course
	for _, course := range courses {
		if course.Name == "" {
			continue
		}
		if course.EndAt == nil || course.EndAt.After(now) {
			active = append(active, course)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoActiveCourses
	}
	return active, nil
}

// NameCourses assigns display names, keeping the order of courses. When two
// courses share a display name the later one wins.
func NameCourses(courses []models.Course) []NamedCourse {
	named := make([]NamedCourse, 0, len(courses))
	index := make(map[string]int, len(courses))
	for _, course := range courses {
		name := DisplayName(course.Name)
		if i, ok := index[name]; ok {
			log.WithField("name", name).
				WithField("replaced", named[i].Course.Name).
				WithField("course", course.Name).
				Warn("Two courses share a display name, only the last one is synced")
			named[i].Course = course
			continue
		}
		index[name] = len(named)
		named = append(named, NamedCourse{Name: name, Course: course})
	}
	return named
}

// Names returns the display names of courses
func Names(courses []NamedCourse) []string {
	names := make([]string, len(courses))
	for i, c := range courses {
		names[i] = c.Name
	}
	return names
}
