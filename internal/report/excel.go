package report

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// maxSheetName is Excel's limit on sheet name length.
const maxSheetName = 31

// Workbook writes sheets of rows into an in-memory xlsx file.
type Workbook struct {
	file  *excelize.File
	sheet string
	row   int
	bold  int
}

func NewWorkbook() *Workbook {
	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		style = -1
	}
	return &Workbook{file: f, bold: style}
}

// AddSheet starts a new sheet. The first call renames the default sheet.
func (w *Workbook) AddSheet(name string) error {
	if len(name) > maxSheetName {
		name = name[:maxSheetName]
	}

	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.sheet = name
	w.row = 1
	return nil
}

// WriteHeader writes a bold header row.
func (w *Workbook) WriteHeader(columns ...string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.WriteRow(row...); err != nil {
		return err
	}
	if w.bold < 0 || len(columns) == 0 {
		return nil
	}

	start, _ := excelize.CoordinatesToCellName(1, w.row-1)
	end, _ := excelize.CoordinatesToCellName(len(columns), w.row-1)
	return w.file.SetCellStyle(w.sheet, start, end, w.bold)
}

func (w *Workbook) WriteRow(values ...any) error {
	if w.sheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &values); err != nil {
		return err
	}
	w.row++
	return nil
}

// Save writes the xlsx bytes to out.
func (w *Workbook) Save(out io.Writer) error {
	return w.file.Write(out)
}

func (w *Workbook) Close() error {
	return w.file.Close()
}

// WriteReport renders every view of r into its own sheet.
func WriteReport(out io.Writer, r *Report) error {
	w := NewWorkbook()
	defer w.Close()

	s := r.Summary
	steps := []func() error{
		func() error { return w.AddSheet("Summary") },
		func() error { return w.WriteHeader("Metric", "Value") },
		func() error { return w.WriteRow("From", s.From) },
		func() error { return w.WriteRow("To", s.To) },
		func() error { return w.WriteRow("Days", s.Days) },
		func() error { return w.WriteRow("Total", s.Total) },
		func() error { return w.WriteRow("Scheduled", s.Scheduled) },
		func() error { return w.WriteRow("Confirmed", s.Confirmed) },
		func() error { return w.WriteRow("Completed", s.Completed) },
		func() error { return w.WriteRow("Cancelled", s.Cancelled) },
		func() error { return w.WriteRow("No show", s.NoShow) },
		func() error { return w.WriteRow("Attendance rate %", s.AttendanceRate) },
		func() error { return w.WriteRow("Cancellation rate %", s.CancellationRate) },
		func() error { return w.WriteRow("Mean per day", s.MeanPerDay) },
		func() error { return w.WriteRow("Revenue", money(s.RevenueCents)) },

		func() error { return w.AddSheet("By day") },
		func() error {
			return w.WriteHeader("Date", "Total", "Scheduled", "Confirmed", "Completed", "Cancelled", "No show")
		},
		func() error {
			for _, d := range r.ByDay {
				if err := w.WriteRow(d.Date, d.Total, d.Scheduled, d.Confirmed, d.Completed, d.Cancelled, d.NoShow); err != nil {
					return err
				}
			}
			return nil
		},

		func() error { return w.AddSheet("By doctor") },
		func() error { return w.WriteHeader("Doctor", "Total", "Completed", "Cancelled", "No show", "Revenue") },
		func() error {
			for _, d := range r.ByDoctor {
				if err := w.WriteRow(d.Doctor, d.Total, d.Completed, d.Cancelled, d.NoShow, money(d.RevenueCents)); err != nil {
					return err
				}
			}
			return nil
		},

		func() error { return w.AddSheet("By status") },
		func() error { return w.WriteHeader("Status", "Count") },
		func() error {
			for _, c := range r.ByStatus {
				if err := w.WriteRow(string(c.Status), c.Count); err != nil {
					return err
				}
			}
			return nil
		},

		func() error { return w.AddSheet("Revenue") },
		func() error { return w.WriteHeader("Month", "Appointments", "Revenue") },
		func() error {
			for _, m := range r.Revenue {
				if err := w.WriteRow(m.Month, m.Count, money(m.RevenueCents)); err != nil {
					return err
				}
			}
			return nil
		},
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return w.Save(out)
}

// TableSource exposes raw tables for a full data dump.
type TableSource interface {
	TableNames() []string
	TableData(ctx context.Context, table string) ([]string, [][]string, error)
}

// WriteTables dumps every table of src into its own sheet.
func WriteTables(ctx context.Context, out io.Writer, src TableSource) error {
	w := NewWorkbook()
	defer w.Close()

	for _, table := range src.TableNames() {
		columns, rows, err := src.TableData(ctx, table)
		if err != nil {
			return fmt.Errorf("read table %s: %w", table, err)
		}
		if err := w.AddSheet(table); err != nil {
			return err
		}
		if err := w.WriteHeader(columns...); err != nil {
			return err
		}
		for _, row := range rows {
			values := make([]any, len(row))
			for i, v := range row {
				values[i] = v
			}
			if err := w.WriteRow(values...); err != nil {
				return err
			}
		}
	}
	return w.Save(out)
}

func money(cents int64) float64 {
	return float64(cents) / 100
}
