// Package config manages the csync configuration directory: the Canvas
// credentials in login.json and the per-course sync modes in courses.json.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

const (
	// DefaultDir is the hidden configuration directory, relative to the
	// working directory.
	DefaultDir = ".config"

	// CredentialsFile holds the Canvas API URL and key.
	CredentialsFile = "login.json"

	// CoursesFile maps course names to their sync mode.
	CoursesFile = "courses.json"

	// LedgerFile is the SQLite sync ledger.
	LedgerFile = "csync.db"
)

var (
	// ErrMissingCredentials is returned when login.json has empty fields.
	ErrMissingCredentials = errors.New("missing API credentials")

	// ErrInvalidConfig is returned when courses.json does not cover every
	// current course or holds an unknown sync mode.
	ErrInvalidConfig = errors.New("invalid config")
)

// Courses maps a course display name to its sync mode.
type Courses map[string]models.SyncMode

// Store reads and writes the files of a configuration directory.
type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore returns a Store rooted at dir on the given filesystem.
func NewStore(fs afero.Fs, dir string) *Store {
	return &Store{fs: fs, dir: dir}
}

// Dir returns the configuration directory.
func (s *Store) Dir() string {
	return s.dir
}

// CredentialsPath returns the path of login.json.
func (s *Store) CredentialsPath() string {
	return filepath.Join(s.dir, CredentialsFile)
}

// CoursesPath returns the path of courses.json.
func (s *Store) CoursesPath() string {
	return filepath.Join(s.dir, CoursesFile)
}

// LedgerPath returns the path of the sync ledger database.
func (s *Store) LedgerPath() string {
	return filepath.Join(s.dir, LedgerFile)
}

// Bootstrap creates the configuration directory with an empty credentials
// template if the directory does not exist yet. It reports whether the
// directory was created, in which case the caller should ask the user to
// fill in the credentials and stop.
func (s *Store) Bootstrap() (bool, error) {
	exists, err := afero.DirExists(s.fs, s.dir)
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", s.dir, err)
	}
	if exists {
		return false, nil
	}

	if err := s.fs.MkdirAll(s.dir, 0755); err != nil {
		return false, fmt.Errorf("create config dir: %w", err)
	}
	if _, ok := s.fs.(*afero.OsFs); ok {
		if err := hide(s.dir); err != nil {
			log.WithError(err).WithField("dir", s.dir).Debug("Failed to hide config dir")
		}
	}

	if err := s.SaveCredentials(models.Credentials{}); err != nil {
		return false, err
	}
	return true, nil
}

// LoadCredentials reads login.json. Empty fields yield ErrMissingCredentials.
func (s *Store) LoadCredentials() (models.Credentials, error) {
	var creds models.Credentials
	path := s.CredentialsPath()
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return creds, fmt.Errorf("read credentials: %w", err)
	}
	if err := json.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parse %s: %w", path, err)
	}
	if creds.APIURL == "" || creds.APIKey == "" {
		return creds, fmt.Errorf("%w: fill out API_URL and API_KEY in %s", ErrMissingCredentials, path)
	}
	return creds, nil
}

// SaveCredentials writes login.json.
func (s *Store) SaveCredentials(creds models.Credentials) error {
	return s.writeJSON(s.CredentialsPath(), creds, 0600)
}

// LoadCourses returns the sync mode of every current course. When
// courses.json does not exist, it is written with SyncModules for each name
// and created is true. An existing file must pass Validate.
func (s *Store) LoadCourses(names []string) (cfg Courses, created bool, err error) {
	path := s.CoursesPath()
	data, err := afero.ReadFile(s.fs, path)
	if os.IsNotExist(err) {
		cfg = make(Courses, len(names))
		for _, name := range names {
			cfg[name] = models.SyncModules
		}
		if err := s.writeJSON(path, cfg, 0644); err != nil {
			return nil, false, err
		}
		return cfg, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read course config: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg, err = Validate(raw, names)
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// Validate checks that raw holds a key for every name and that every value
// is a known sync mode. Keys for courses that are no longer current are
// allowed but must still hold a valid mode.
func Validate(raw map[string]string, names []string) (Courses, error) {
	cfg := make(Courses, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		mode, err := models.ParseSyncMode(raw[k])
		if err != nil {
			return nil, fmt.Errorf("%w: course %q: %v", ErrInvalidConfig, k, err)
		}
		cfg[k] = mode
	}

	for _, name := range names {
		if _, ok := cfg[name]; !ok {
			return nil, fmt.Errorf("%w: missing course %q", ErrInvalidConfig, name)
		}
	}
	return cfg, nil
}

func (s *Store) writeJSON(path string, v interface{}, perm os.FileMode) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	if err := afero.WriteFile(s.fs, path, data, perm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
