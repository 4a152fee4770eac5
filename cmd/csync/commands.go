package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/chmdznr/canvas-course-sync/internal/backup"
	"github.com/chmdznr/canvas-course-sync/internal/canvas"
	"github.com/chmdznr/canvas-course-sync/internal/config"
	"github.com/chmdznr/canvas-course-sync/internal/db"
	"github.com/chmdznr/canvas-course-sync/internal/report"
	"github.com/chmdznr/canvas-course-sync/internal/sync"
	"github.com/chmdznr/canvas-course-sync/pkg/models"
	"github.com/chmdznr/canvas-course-sync/pkg/utils"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))

func newStore(c *cli.Context) *config.Store {
	return config.NewStore(afero.NewOsFs(), c.String("config-dir"))
}

// startSync bootstraps the configuration on first use and otherwise mirrors
// every current course.
func startSync(c *cli.Context) error {
	store := newStore(c)
	created, err := store.Bootstrap()
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Fill out the details of your canvas login credentials at '%s' and relaunch "+
			"this application to continue. Note: '%s' directory is hidden.\n",
			store.CredentialsPath(), store.Dir())
		return nil
	}

	creds, err := store.LoadCredentials()
	if err != nil {
		return err
	}

	client := canvas.New(creds.APIURL, creds.APIKey)
	start := time.Now()
	courses, modes, configCreated, err := sync.Prepare(c.Context, client, store, start)
	if err != nil {
		if errors.Is(err, canvas.ErrUnauthorized) {
			return fmt.Errorf("%w: check API_KEY in %s", err, store.CredentialsPath())
		}
		return err
	}
	if configCreated {
		fmt.Println("Welcome to canvas sync...")
		fmt.Printf("%s has been created; change settings if needed\n", store.CoursesPath())
		return nil
	}

	dryRun := isDryRun(c)
	syncerConfig := sync.SyncerConfig{
		Dest:     c.String("dest"),
		DryRun:   dryRun,
		Progress: os.Stderr,
	}

	var ledger *db.DB
	if !dryRun {
		ledger, err = db.New(store.LedgerPath())
		if err != nil {
			return fmt.Errorf("failed to open ledger: %w", err)
		}
		defer ledger.Close()

		syncerConfig.RunID, err = ledger.StartRun()
		if err != nil {
			return err
		}
		syncerConfig.Recorder = ledger
	}

	syncer := sync.NewSyncer(client, afero.NewOsFs(), &syncerConfig)
	result, err := syncer.SyncCourses(c.Context, courses, modes)
	if ledger != nil && result != nil {
		if err := ledger.FinishRun(syncerConfig.RunID, result.Downloaded, result.Skipped, result.Failed); err != nil {
			log.WithError(err).Warn("Failed to record sync run")
		}
	}
	if err != nil {
		return err
	}

	verb := "Downloaded"
	if dryRun {
		verb = "Would download"
	}
	fmt.Printf("\nSynced %d courses in %s:\n", result.Courses, utils.FormatDuration(time.Since(start)))
	fmt.Printf("- %s: %d files (%s)\n", verb, result.Downloaded, utils.FormatSize(result.DownloadSize))
	fmt.Printf("- Skipped: %d files\n", result.Skipped)
	if result.Failed > 0 {
		fmt.Printf("- Inaccessible: %d (see warnings above)\n", result.Failed)
	}
	return nil
}

// login prompts for the Canvas API URL and access token and saves them to
// login.json. The token is read without echo.
func login(c *cli.Context) error {
	store := newStore(c)
	if _, err := store.Bootstrap(); err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Canvas URL (e.g. https://canvas.example.edu): ")
	apiURL, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read URL: %w", err)
	}

	fmt.Print("Access token: ")
	var apiKey string
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		key, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		apiKey = string(key)
	} else {
		apiKey, err = reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
	}

	creds := models.Credentials{
		APIURL: strings.TrimSpace(apiURL),
		APIKey: strings.TrimSpace(apiKey),
	}
	if creds.APIURL == "" || creds.APIKey == "" {
		return config.ErrMissingCredentials
	}
	if err := store.SaveCredentials(creds); err != nil {
		return err
	}

	fmt.Printf("Credentials saved to '%s'\n", store.CredentialsPath())
	return nil
}

// openLedger opens the existing ledger. It returns nil when no sync has
// been recorded yet.
func openLedger(c *cli.Context) (*db.DB, error) {
	store := newStore(c)
	exists, err := afero.Exists(afero.NewOsFs(), store.LedgerPath())
	if err != nil {
		return nil, err
	}
	if !exists {
		fmt.Println("No syncs recorded yet")
		return nil, nil
	}

	ledger, err := db.New(store.LedgerPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return ledger, nil
}

// showStatus shows what the ledger knows about each course
//
// It will show the number of downloaded and failed files per course, how
// many of them are backed up, and when the last sync finished.
func showStatus(c *cli.Context) error {
	ledger, err := openLedger(c)
	if ledger == nil || err != nil {
		return err
	}
	defer ledger.Close()

	run, err := ledger.LastRun()
	if err != nil {
		return err
	}
	if run != nil {
		fmt.Println(headerStyle.Render("Last sync"))
		fmt.Printf("Finished: %s\n", humanize.Time(run.FinishedAt))
		fmt.Printf("Downloaded: %d, Skipped: %d, Inaccessible: %d\n\n", run.Downloaded, run.Skipped, run.Failed)
	}

	stats, err := ledger.GetStats()
	if err != nil {
		return err
	}
	for _, s := range stats {
		fmt.Println(headerStyle.Render(s.Course))
		fmt.Printf("Files Downloaded: %d (Size: %s)\n", s.DownloadedFiles, utils.FormatSize(s.DownloadedSize))
		fmt.Printf("Files Failed: %d\n", s.FailedFiles)
		fmt.Printf("Files Backed Up: %d\n", s.BackedUpFiles)
		if !s.LastSyncedAt.IsZero() {
			fmt.Printf("Last Download: %s\n", humanize.Time(s.LastSyncedAt))
		}
		fmt.Println()
	}
	return nil
}

func exportLedger(c *cli.Context) error {
	ledger, err := openLedger(c)
	if ledger == nil || err != nil {
		return err
	}
	defer ledger.Close()

	files, err := ledger.ListFiles()
	if err != nil {
		return err
	}
	stats, err := ledger.GetStats()
	if err != nil {
		return err
	}

	output := c.String("output")
	if err := report.Write(output, files, stats); err != nil {
		return err
	}
	fmt.Printf("Exported %d files to '%s'\n", len(files), output)
	return nil
}

func startBackup(c *cli.Context) error {
	ledger, err := openLedger(c)
	if ledger == nil || err != nil {
		return err
	}
	defer ledger.Close()

	backuper, err := backup.New(ledger, afero.NewOsFs(), c.String("dest"), backup.Config{
		Endpoint:   c.String("endpoint"),
		Bucket:     c.String("bucket"),
		Folder:     strings.Trim(c.String("folder"), "/"),
		AccessKey:  c.String("access-key"),
		SecretKey:  c.String("secret-key"),
		Insecure:   c.Bool("insecure"),
		NumWorkers: c.Int("workers"),
		Progress:   os.Stderr,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	summary, err := backuper.Run(c.Context)
	if err != nil {
		return fmt.Errorf("failed to back up files: %w", err)
	}

	fmt.Printf("\nBackup completed in %s:\n", utils.FormatDuration(time.Since(start)))
	fmt.Printf("- Uploaded: %d files (%s)\n", summary.Uploaded, utils.FormatSize(summary.UploadedSize))
	fmt.Printf("- Missing: %d files\n", summary.Missing)
	fmt.Printf("- Failed: %d files\n", summary.Failed)
	return nil
}
