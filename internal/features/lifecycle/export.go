package lifecycle

import (
	"bytes"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"
)

const (
	candidatesSheet = "Candidates"
	failuresSheet   = "Failures"
)

var candidateColumns = []string{"ID", "Name", "Category", "Size (bytes)", "Uploaded By", "Expires At", "Storage Path"}

// ExportReport renders a sweep report as an XLSX workbook with one sheet of
// candidates and one of failures.
func ExportReport(report *SweepReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(candidatesSheet)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(failuresSheet); err != nil {
		return nil, err
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E0E0E0"}, Pattern: 1},
	})

	writeRow(f, candidatesSheet, 1, lo.ToAnySlice(candidateColumns), headerStyle)
	for i, rec := range report.Candidates {
		expires := ""
		if rec.ExpiresAt != nil {
			expires = rec.ExpiresAt.UTC().Format("2006-01-02 15:04:05")
		}
		writeRow(f, candidatesSheet, i+2, []any{
			rec.ID, rec.OriginalName, string(rec.Category), rec.SizeBytes, rec.UploadedBy, expires, rec.StoragePath,
		}, 0)
	}

	writeRow(f, failuresSheet, 1, []any{"File ID", "Error"}, headerStyle)
	for i, failure := range report.Failures {
		writeRow(f, failuresSheet, i+2, []any{failure.FileID, failure.Error}, 0)
	}

	mode := "live"
	if report.DryRun {
		mode = "dry run"
	}
	summaryRow := len(report.Candidates) + 3
	writeRow(f, candidatesSheet, summaryRow, []any{
		fmt.Sprintf("%s sweep at %s", mode, report.StartedAt.UTC().Format(time.RFC3339)),
		fmt.Sprintf("deleted %d, failed %d, skipped %d", report.Deleted, report.Failed, report.Skipped),
	}, 0)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any, style int) {
	for col, v := range values {
		cell, _ := excelize.CoordinatesToCellName(col+1, row)
		f.SetCellValue(sheet, cell, v)
		if style != 0 {
			f.SetCellStyle(sheet, cell, cell, style)
		}
	}
}
