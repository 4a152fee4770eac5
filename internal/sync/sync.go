package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cheggaaa/pb/v3"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/chmdznr/canvas-course-sync/internal/canvas"
	"github.com/chmdznr/canvas-course-sync/internal/config"
	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

// Platform is the remote course platform csync mirrors from.
// *canvas.Client implements it.
type Platform interface {
	Courses(ctx context.Context) ([]models.Course, error)
	Modules(ctx context.Context, courseID int64) ([]models.Module, error)
	ModuleItems(ctx context.Context, courseID, moduleID int64) ([]models.ModuleItem, error)
	Folders(ctx context.Context, courseID int64) ([]models.Folder, error)
	FolderFiles(ctx context.Context, folderID int64) ([]models.File, error)
	File(ctx context.Context, courseID, fileID int64) (models.File, error)
	Download(ctx context.Context, file models.File, w io.Writer) error
}

// Recorder receives a record for every download attempt. *db.DB implements it.
type Recorder interface {
	SaveFileRecord(record *models.FileRecord) error
}

// Syncer mirrors courses from a Platform onto a filesystem
type Syncer struct {
	platform Platform
	fs       afero.Fs
	dest     string
	dryRun   bool
	progress io.Writer
	recorder Recorder
	runID    string
	now      func() time.Time
	result   Result
}

// SyncerConfig holds configuration for the syncer
type SyncerConfig struct {
	// Dest is the directory course directories are created in
	Dest string
	// DryRun logs the files that would be downloaded without writing anything
	DryRun bool
	// Progress receives a course progress bar; nil disables it
	Progress io.Writer
	// Recorder is told about every download; nil disables recording
	Recorder Recorder
	// RunID tags the records of this run
	RunID string
}

// DefaultSyncerConfig returns default syncer configuration
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{
		Dest: ".",
	}
}

// Result counts what a sync did
type Result struct {
	// ConfigCreated is set when courses.json was just written and nothing
	// was synced
	ConfigCreated bool
	Courses       int
	Downloaded    int64
	DownloadSize  int64
	// Skipped counts files already present and locked files
	Skipped int64
	// Failed counts inaccessible content that was skipped
	Failed int64
}

// NewSyncer creates a new syncer instance
func NewSyncer(platform Platform, fs afero.Fs, config *SyncerConfig) *Syncer {
	if config == nil {
		defaultConfig := DefaultSyncerConfig()
		config = &defaultConfig
	}
	dest := config.Dest
	if dest == "" {
		dest = "."
	}

	return &Syncer{
		platform: platform,
		fs:       fs,
		dest:     dest,
		dryRun:   config.DryRun,
		progress: config.Progress,
		recorder: config.Recorder,
		runID:    config.RunID,
		now:      time.Now,
	}
}

// Run performs a full sync: it selects the active courses, loads their sync
// modes from store and mirrors each course. When the course config did not
// exist yet it is created and nothing is synced.
func (s *Syncer) Run(ctx context.Context, store *config.Store) (*Result, error) {
	named, modes, created, err := Prepare(ctx, s.platform, store, s.now())
	if err != nil {
		return nil, err
	}
	if created {
		return &Result{ConfigCreated: true}, nil
	}

	return s.SyncCourses(ctx, named, modes)
}

// Prepare selects the courses of platform that are active at now and loads
// their sync modes from store. created is set when the course config was
// just written; nothing should be synced then.
func Prepare(ctx context.Context, platform Platform, store *config.Store, now time.Time) ([]NamedCourse, config.Courses, bool, error) {
	courses, err := platform.Courses(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to list courses: %w", err)
	}

	active, err := ActiveCourses(courses, now)
	if err != nil {
		return nil, nil, false, err
	}
	named := NameCourses(active)

	modes, created, err := store.LoadCourses(Names(named))
	if err != nil {
		return nil, nil, false, err
	}
	return named, modes, created, nil
}

// SyncCourses mirrors each course in the mode modes assigns to it. On error
// the returned result still counts what was done before the failure.
func (s *Syncer) SyncCourses(ctx context.Context, courses []NamedCourse, modes config.Courses) (*Result, error) {
	s.result = Result{}

	var bar *pb.ProgressBar
	if s.progress != nil {
		bar = pb.New(len(courses))
		bar.SetWriter(s.progress)
		bar.SetTemplateString(`Syncing {{string . "course"}} {{counters . }} {{bar . }} {{percent . }}`)
		bar.Start()
		defer bar.Finish()
	}

	for _, course := range courses {
		if bar != nil {
			bar.Set("course", course.Name)
		}

		mode, ok := modes[course.Name]
		if !ok {
			return s.snapshot(), fmt.Errorf("%w: missing course %q", config.ErrInvalidConfig, course.Name)
		}

		var err error
		switch mode {
		case models.SyncModules:
			err = s.syncModules(ctx, course)
		case models.SyncFiles:
			err = s.syncFiles(ctx, course)
		default:
			err = fmt.Errorf("%w: course %q has unknown mode %q", config.ErrInvalidConfig, course.Name, mode)
		}
		if err != nil {
			return s.snapshot(), fmt.Errorf("failed to sync %s: %w", course.Name, err)
		}

		s.result.Courses++
		if bar != nil {
			bar.Increment()
		}
	}
	return s.snapshot(), nil
}

func (s *Syncer) snapshot() *Result {
	result := s.result
	return &result
}

// syncModules creates a directory per module and downloads the module's
// file items into it
func (s *Syncer) syncModules(ctx context.Context, course NamedCourse) error {
	logger := log.WithField("course", course.Name)
	coursePath := Sanitize(course.Name)

	modules, err := s.platform.Modules(ctx, course.Course.ID)
	if err != nil {
		return s.tolerate(err, logger)
	}

	for _, module := range modules {
		moduleLogger := logger.WithField("module", module.Name)
		modulePath := filepath.Join(coursePath, Sanitize(module.Name))
		if err := s.mkdir(modulePath); err != nil {
			return err
		}

		items, err := s.platform.ModuleItems(ctx, course.Course.ID, module.ID)
		if err != nil {
			if err := s.tolerate(err, moduleLogger); err != nil {
				return err
			}
			continue
		}

		for _, item := range items {
			if item.Type != models.ModuleItemFile {
				continue
			}

			target := filepath.Join(modulePath, Sanitize(item.Title))
			present, err := s.exists(target)
			if err != nil {
				return err
			}
			if present {
				s.result.Skipped++
				continue
			}

			fileLogger := moduleLogger.WithField("file", item.Title)
			file, err := s.platform.File(ctx, course.Course.ID, item.ContentID)
			if err != nil {
				s.recordFailure(course.Name, target, item.ContentID, err)
				if err := s.tolerate(err, fileLogger); err != nil {
					return err
				}
				continue
			}
			if file.Locked {
				fileLogger.Debug("Skipping locked file")
				s.result.Skipped++
				continue
			}

			if err := s.download(ctx, course.Name, file, target, fileLogger); err != nil {
				return err
			}
		}
	}
	return nil
}

// syncFiles recreates the course file tree below CourseFilesRoot
func (s *Syncer) syncFiles(ctx context.Context, course NamedCourse) error {
	logger := log.WithField("course", course.Name)
	coursePath := Sanitize(course.Name)

	folders, err := s.platform.Folders(ctx, course.Course.ID)
	if err != nil {
		return s.tolerate(err, logger)
	}

	for _, folder := range folders {
		folderLogger := logger.WithField("folder", folder.FullName)
		rel, ok := FolderPath(folder.FullName)
		if !ok {
			folderLogger.Debug("Skipping folder outside the course files root")
			continue
		}

		folderPath := filepath.Join(coursePath, rel)
		if err := s.mkdir(folderPath); err != nil {
			return err
		}

		files, err := s.platform.FolderFiles(ctx, folder.ID)
		if err != nil {
			if err := s.tolerate(err, folderLogger); err != nil {
				return err
			}
			continue
		}

		for _, file := range files {
			fileLogger := folderLogger.WithField("file", file.DisplayName)
			if file.Locked {
				fileLogger.Debug("Skipping locked file")
				s.result.Skipped++
				continue
			}

			target := filepath.Join(folderPath, Sanitize(file.DisplayName))
			present, err := s.exists(target)
			if err != nil {
				return err
			}
			if present {
				s.result.Skipped++
				continue
			}

			if err := s.download(ctx, course.Name, file, target, fileLogger); err != nil {
				return err
			}
		}
	}
	return nil
}

// download fetches file into target, which is relative to the destination
// directory. The contents go to a temporary file that is renamed into place
// once complete, so an interrupted transfer never leaves target behind.
// Inaccessible files are tolerated; other errors are returned.
func (s *Syncer) download(ctx context.Context, course string, file models.File, target string, logger *log.Entry) error {
	if s.dryRun {
		logger.WithField("path", target).Info("Would download")
		s.result.Downloaded++
		s.result.DownloadSize += file.Size
		return nil
	}

	err := s.fetch(ctx, file, filepath.Join(s.dest, target))
	if err != nil {
		s.recordFailure(course, target, file.ID, err)
		return s.tolerate(err, logger)
	}

	logger.WithField("path", target).Debug("Downloaded")
	s.result.Downloaded++
	s.result.DownloadSize += file.Size
	s.record(&models.FileRecord{
		Course:    course,
		LocalPath: filepath.ToSlash(target),
		RemoteID:  file.ID,
		Size:      file.Size,
		Status:    models.StatusDownloaded,
	})
	return nil
}

func (s *Syncer) fetch(ctx context.Context, file models.File, path string) error {
	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), ".csync-*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	err = s.platform.Download(ctx, file, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.fs.Rename(tmp.Name(), path)
	}
	if err != nil {
		if removeErr := s.fs.Remove(tmp.Name()); removeErr != nil {
			log.WithError(removeErr).WithField("path", tmp.Name()).Debug("Failed to remove temp file")
		}
		return err
	}
	return nil
}

// tolerate swallows errors for content the user may not access, counting
// and logging them. Any other error is returned unchanged.
func (s *Syncer) tolerate(err error, logger *log.Entry) error {
	if errors.Is(err, canvas.ErrForbidden) || errors.Is(err, canvas.ErrNotFound) {
		logger.WithError(err).Warn("Skipping inaccessible content")
		s.result.Failed++
		return nil
	}
	return err
}

func (s *Syncer) recordFailure(course, target string, remoteID int64, err error) {
	s.record(&models.FileRecord{
		Course:    course,
		LocalPath: filepath.ToSlash(target),
		RemoteID:  remoteID,
		Status:    models.StatusFailed,
		LastError: err.Error(),
	})
}

func (s *Syncer) record(record *models.FileRecord) {
	if s.recorder == nil || s.dryRun {
		return
	}
	record.RunID = s.runID
	if err := s.recorder.SaveFileRecord(record); err != nil {
		log.WithError(err).WithField("path", record.LocalPath).Warn("Failed to update ledger")
	}
}

func (s *Syncer) mkdir(rel string) error {
	if s.dryRun {
		return nil
	}
	if err := s.fs.MkdirAll(filepath.Join(s.dest, rel), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", rel, err)
	}
	return nil
}

func (s *Syncer) exists(rel string) (bool, error) {
	return afero.Exists(s.fs, filepath.Join(s.dest, rel))
}
