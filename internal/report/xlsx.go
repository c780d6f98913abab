package report

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/VerdantVibes/coupon-scraper/constants"
	"github.com/VerdantVibes/coupon-scraper/internal/entity"
	"github.com/VerdantVibes/coupon-scraper/internal/utils"
)

const (
	validSheet   = "Valid Coupons"
	summarySheet = "Summary"
)

// XLSXSink writes a workbook for the final report only.
type XLSXSink struct {
	dir     string
	perSite bool
	logger  *slog.Logger
}

func NewXLSXSink(dir string, perSite bool, logger *slog.Logger) *XLSXSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &XLSXSink{dir: dir, perSite: perSite, logger: logger}
}

func (s *XLSXSink) Path(site string) string {
	if s.perSite {
		return filepath.Join(s.dir, SafeName(site), constants.ReportXLSXFile)
	}
	return filepath.Join(s.dir, constants.ReportXLSXFile)
}

func (s *XLSXSink) Write(_ context.Context, r *entity.Report) error {
	if !r.Final {
		return nil
	}
	start := time.Now()
	b, err := RenderXLSX(r)
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(s.Path(r.Site), b); err != nil {
		return fmt.Errorf("write xlsx report: %w", err)
	}
	s.logger.Info("report.xlsx.ok",
		"run_id", r.RunID,
		"rows", len(r.Entries),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// RenderXLSX returns the report as workbook bytes: valid codes on one sheet, run
// summary on another.
func RenderXLSX(r *entity.Report) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty Sheet1 behind.
	if err := f.SetSheetName(f.GetSheetName(0), validSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(validSheet)
	f.SetActiveSheet(activeIndex)

	unpersisted := make(map[string]bool, len(r.Unpersisted))
	for _, e := range r.Unpersisted {
		unpersisted[e.Code] = true
	}

	headers := []string{"Code", "Site", "Persisted"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(validSheet, cell, h)
	}
	for i, e := range r.Entries {
		row := i + 2
		persisted := "yes"
		if unpersisted[e.Code] {
			persisted = "no"
		}
		for col, v := range []any{e.Code, e.Site, persisted} {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(validSheet, cell, v)
		}
	}
	_ = f.SetColWidth(validSheet, "A", "A", 24)
	_ = f.SetColWidth(validSheet, "B", "B", 32)
	_ = f.SetColWidth(validSheet, "C", "C", 12)

	status := "completed"
	if r.Canceled {
		status = "canceled"
	}
	rows := [][2]any{
		{"Run ID", r.RunID.String()},
		{"Site", r.Site},
		{"Status", status},
		{"Planned", r.Summary.Planned},
		{"Resolved", r.Summary.Total},
		{"Valid", r.Summary.Valid},
		{"Invalid", r.Summary.Invalid},
		{"Failed", r.Summary.Failed},
		{"Success Rate", r.Summary.Rate()},
		{"Batches", fmt.Sprintf("%d/%d", r.BatchesCompleted, r.BatchesTotal)},
		{"Generated At", r.GeneratedAt.UTC().Format(time.RFC3339)},
	}
	for i, kv := range rows {
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "B", "B", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
