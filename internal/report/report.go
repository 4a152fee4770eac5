// Package report exports the sync ledger to an Excel workbook.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
	"github.com/chmdznr/canvas-course-sync/pkg/utils"
)

// Sheet names of the exported workbook
const (
	FilesSheet   = "Files"
	CoursesSheet = "Courses"
)

var (
	fileHeader   = []interface{}{"Course", "Path", "Remote ID", "Size", "Status", "Error", "Synced At", "Backed Up"}
	courseHeader = []interface{}{"Course", "Downloaded", "Size", "Failed", "Backed Up", "Last Synced"}
)

// Write saves files and stats as a workbook at path
func Write(path string, files []models.FileRecord, stats []models.Stats) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", FilesSheet); err != nil {
		return err
	}
	if _, err := f.NewSheet(CoursesSheet); err != nil {
		return err
	}

	if err := writeRows(f, FilesSheet, fileHeader, len(files), func(i int) []interface{} {
		file := files[i]
		return []interface{}{
			file.Course,
			file.LocalPath,
			file.RemoteID,
			file.Size,
			file.Status,
			file.LastError,
			file.SyncedAt.Format("2006-01-02 15:04:05"),
			file.BackedUp,
		}
	}); err != nil {
		return err
	}

	if err := writeRows(f, CoursesSheet, courseHeader, len(stats), func(i int) []interface{} {
		s := stats[i]
		lastSynced := ""
		if !s.LastSyncedAt.IsZero() {
			lastSynced = s.LastSyncedAt.Format("2006-01-02 15:04:05")
		}
		return []interface{}{
			s.Course,
			s.DownloadedFiles,
			utils.FormatSize(s.DownloadedSize),
			s.FailedFiles,
			s.BackedUpFiles,
			lastSynced,
		}
	}); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, header []interface{}, n int, row func(int) []interface{}) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row(i)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
