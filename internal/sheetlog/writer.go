// Package sheetlog appends one spreadsheet row per final account outcome.
package sheetlog

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/balance-cli/internal/model"
)

// SheetName is the worksheet outcomes are written to.
const SheetName = "Execucoes"

// Header is the first row of a new log sheet.
var Header = []string{"Date", "Run", "Account", "Result", "Balance", "Failure", "Detail", "Evidence", "Pass", "Duration"}

// Writer appends outcome rows to an xlsx workbook. The file is reopened and
// saved for every row so a crashed batch still leaves a readable log.
type Writer struct {
	path    string
	mu      sync.Mutex
	nowFunc func() time.Time
}

// NewWriter creates a Writer for the workbook at path. The file and its
// directory are created on the first write.
func NewWriter(path string) *Writer {
	return &Writer{path: path, nowFunc: time.Now}
}

// RecordOutcome appends out as a row. It satisfies batch.OutcomeSink.
func (w *Writer) RecordOutcome(ctx context.Context, runID string, out model.JobOutcome) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "sheetlog: context cancelled")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, sheet, err := w.open()
	if err != nil {
		return err
	}

	row := sheet.AddRow()
	row.AddCell().SetString(w.nowFunc().Format("2006-01-02 15:04:05"))
	row.AddCell().SetString(runID)
	row.AddCell().SetString(out.Username)
	row.AddCell().SetString(string(out.Result))
	if out.Value != nil {
		row.AddCell().SetInt64(*out.Value)
	} else {
		row.AddCell().SetString("")
	}
	row.AddCell().SetString(string(out.FailureKind))
	row.AddCell().SetString(out.Detail)
	row.AddCell().SetString(out.EvidenceRef)
	row.AddCell().SetInt(out.Pass)
	row.AddCell().SetString(strconv.FormatFloat(out.Duration.Seconds(), 'f', 1, 64))

	if err := f.Save(w.path); err != nil {
		return eris.Wrap(err, "sheetlog: save workbook")
	}
	return nil
}

func (w *Writer) open() (*xlsx.File, *xlsx.Sheet, error) {
	f, err := xlsx.OpenFile(w.path)
	switch {
	case err == nil:
		if sheet, ok := f.Sheet[SheetName]; ok {
			return f, sheet, nil
		}
	case errors.Is(err, fs.ErrNotExist):
		if dir := filepath.Dir(w.path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, eris.Wrap(err, "sheetlog: create directory")
			}
		}
		f = xlsx.NewFile()
	default:
		return nil, nil, eris.Wrap(err, "sheetlog: open workbook")
	}

	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sheetlog: add sheet")
	}
	header := sheet.AddRow()
	for _, h := range Header {
		header.AddCell().SetString(h)
	}
	return f, sheet, nil
}

// ReadRows returns every row of the log sheet, header included.
func ReadRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheetlog: open workbook")
	}
	sheet, ok := f.Sheet[SheetName]
	if !ok {
		return nil, eris.Errorf("sheetlog: sheet %q not found", SheetName)
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
