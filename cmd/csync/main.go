package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eiannone/keyboard"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/chmdznr/canvas-course-sync/internal/config"
	"github.com/chmdznr/canvas-course-sync/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"v"},
		Usage:   "print the version",
	}

	return &cli.App{
		Name:                 "csync",
		Usage:                "Mirror the files of your current Canvas courses to disk",
		Version:              version.String(),
		EnableBashCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Directory holding login.json, courses.json and the sync ledger",
				Value: config.DefaultDir,
			},
			&cli.StringFlag{
				Name:  "dest",
				Usage: "Directory the course folders are created in",
				Value: ".",
			},
			dryRunFlag(),
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log every downloaded and skipped file",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Wait for a key press before exiting",
			},
		},
		Before: setup,
		After:  waitForKey,
		Action: startSync,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print detailed version information",
				Action: func(c *cli.Context) error {
					fmt.Fprintf(c.App.Writer, "Version:    %s\n", version.Version)
					fmt.Fprintf(c.App.Writer, "Git commit: %s\n", version.GitCommit)
					fmt.Fprintf(c.App.Writer, "Built:      %s\n", version.BuildTime)
					return nil
				},
			},
			{
				Name:  "sync",
				Usage: "Download new files of every current course (the default command)",
				Flags:  []cli.Flag{dryRunFlag()},
				Action: startSync,
			},
			{
				Name:   "login",
				Usage:  "Save the Canvas API URL and access token",
				Action: login,
			},
			{
				Name:   "status",
				Usage:  "Show what previous syncs downloaded",
				Action: showStatus,
			},
			{
				Name:  "export",
				Usage: "Export the sync ledger to an Excel workbook",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Path of the workbook to write",
						Value:   "csync-report.xlsx",
					},
				},
				Action: exportLedger,
			},
			{
				Name:  "backup",
				Usage: "Upload downloaded files to an S3-compatible bucket",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "endpoint",
						Usage:    "MinIO endpoint",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "bucket",
						Usage:    "MinIO bucket name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "folder",
						Usage: "Destination folder path in the bucket",
					},
					&cli.StringFlag{
						Name:     "access-key",
						Usage:    "MinIO access key",
						Required: true,
						EnvVars:  []string{"CSYNC_ACCESS_KEY"},
					},
					&cli.StringFlag{
						Name:     "secret-key",
						Usage:    "MinIO secret key",
						Required: true,
						EnvVars:  []string{"CSYNC_SECRET_KEY"},
					},
					&cli.BoolFlag{
						Name:  "insecure",
						Usage: "Connect over plain HTTP",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel uploads",
						Value: 4,
					},
				},
				Action: startBackup,
			},
		},
	}
}

// dryRunFlag is accepted both before and after the sync command name
func dryRunFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "dry-run",
		Usage: "List the files that would be downloaded without writing anything",
	}
}

// isDryRun reports whether --dry-run was given on the command or any of its
// parents
func isDryRun(c *cli.Context) bool {
	for _, ctx := range c.Lineage() {
		if ctx.Bool("dry-run") {
			return true
		}
	}
	return false
}

// setup configures logging and expands ~ in the path flags
func setup(c *cli.Context) error {
	if c.Bool("verbose") {
		log.SetLevel(log.DebugLevel)
	}

	for _, name := range []string{"config-dir", "dest"} {
		expanded, err := homedir.Expand(c.String(name))
		if err != nil {
			return fmt.Errorf("failed to expand --%s: %w", name, err)
		}
		if err := c.Set(name, expanded); err != nil {
			return err
		}
	}
	return nil
}

// waitForKey keeps a console window opened by double-clicking the binary
// around until the user has read the output
func waitForKey(c *cli.Context) error {
	if !c.Bool("wait") {
		return nil
	}
	fmt.Println("Press any key to exit...")
	if _, _, err := keyboard.GetSingleKey(); err != nil {
		log.WithError(err).Debug("Failed to read key press")
	}
	return nil
}
