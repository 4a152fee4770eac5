package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/canvas-course-sync/internal/config"
	"github.com/chmdznr/canvas-course-sync/internal/db"
	"github.com/chmdznr/canvas-course-sync/pkg/models"
	"github.com/chmdznr/canvas-course-sync/pkg/version"
)

func TestVersionCommand(t *testing.T) {
	oldVersion, oldCommit := version.Version, version.GitCommit
	t.Cleanup(func() { version.Version, version.GitCommit = oldVersion, oldCommit })
	version.Version, version.GitCommit = "v1.2.0", "1a2b3c4d5e"

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run([]string{"csync", "version"}))

	assert.Contains(t, out.String(), "Version:    v1.2.0\n")
	assert.Contains(t, out.String(), "Git commit: 1a2b3c4d5e\n")
	assert.Contains(t, out.String(), "Built:      unknown\n")
}

func TestDryRunFlag(t *testing.T) {
	tests := []struct {
		args []string
		exp  bool
	}{
		{[]string{"csync"}, false},
		{[]string{"csync", "--dry-run"}, true},
		{[]string{"csync", "sync"}, false},
		{[]string{"csync", "--dry-run", "sync"}, true},
		{[]string{"csync", "sync", "--dry-run"}, true},
	}

	for _, tt := range tests {
		var got *bool
		record := func(c *cli.Context) error {
			dryRun := isDryRun(c)
			got = &dryRun
			return nil
		}

		app := newApp()
		app.Action = record
		app.Command("sync").Action = record

		require.NoError(t, app.Run(tt.args), tt.args)
		require.NotNil(t, got, tt.args)
		assert.Equal(t, tt.exp, *got, tt.args)
	}
}

// canvasServer serves one active course with no modules. Course and module
// listings answer with the given status instead when it is set.
type canvasServer struct {
	coursesStatus atomic.Int32
	modulesStatus atomic.Int32
}

func (s *canvasServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/courses":
		if status := s.coursesStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		fmt.Fprint(w, `[{"id": 1, "name": "COMP-1010 Intro", "end_at": null}]`)
	case "/api/v1/courses/1/modules":
		if status := s.modulesStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		fmt.Fprint(w, `[]`)
	default:
		http.NotFound(w, r)
	}
}

func countRuns(t *testing.T, ledgerPath string) (finished, unfinished int) {
	ledger, err := db.New(ledgerPath)
	require.NoError(t, err)
	defer ledger.Close()

	require.NoError(t, ledger.QueryRow(`
		SELECT
			COUNT(CASE WHEN finished_at IS NOT NULL THEN 1 END),
			COUNT(CASE WHEN finished_at IS NULL THEN 1 END)
		FROM runs`).Scan(&finished, &unfinished))
	return finished, unfinished
}

func TestSyncRecordsOnlyStartedRuns(t *testing.T) {
	platform := &canvasServer{}
	server := httptest.NewServer(platform)
	t.Cleanup(server.Close)

	dir := t.TempDir()
	configDir := filepath.Join(dir, "config")
	require.NoError(t, os.MkdirAll(configDir, 0755))
	store := config.NewStore(afero.NewOsFs(), configDir)
	require.NoError(t, store.SaveCredentials(models.Credentials{APIURL: server.URL, APIKey: "token"}))

	run := func() error {
		return newApp().RunContext(context.Background(), []string{
			"csync", "--config-dir", configDir, "--dest", filepath.Join(dir, "courses"),
		})
	}
	ledgerExists := func() bool {
		exists, err := afero.Exists(afero.NewOsFs(), store.LedgerPath())
		require.NoError(t, err)
		return exists
	}

	// Writing courses.json is not a sync run.
	require.NoError(t, run())
	exists, err := afero.Exists(afero.NewOsFs(), store.CoursesPath())
	require.NoError(t, err)
	assert.True(t, exists)
	assert.False(t, ledgerExists())

	// Neither is failing to list the courses.
	platform.coursesStatus.Store(http.StatusInternalServerError)
	assert.Error(t, run())
	assert.False(t, ledgerExists())

	platform.coursesStatus.Store(0)
	require.NoError(t, run())
	finished, unfinished := countRuns(t, store.LedgerPath())
	assert.Equal(t, 1, finished)
	assert.Zero(t, unfinished)

	// A run that fails part way is still finished.
	platform.modulesStatus.Store(http.StatusInternalServerError)
	assert.Error(t, run())
	finished, unfinished = countRuns(t, store.LedgerPath())
	assert.Equal(t, 2, finished)
	assert.Zero(t, unfinished)
}
