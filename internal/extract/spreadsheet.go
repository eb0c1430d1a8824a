package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

const spreadsheetGuidance = "save the workbook as .xlsx (Office Open XML); legacy binary .xls files must be converted first, e.g. libreoffice --headless --convert-to xlsx"

// sheetReader is one way of turning workbook bytes into sheets.
type sheetReader interface {
	name() string
	read(ctx context.Context, data []byte) ([]entity.Sheet, error)
}

// SpreadsheetExtractor reads every sheet of a workbook as a header-keyed table.
// The typed excelize reader runs first; the streaming reader is the fallback.
// Both open the package through excelize, so the fallback only covers
// failures after the workbook has opened (cell typing, sheet reads).
type SpreadsheetExtractor struct {
	readers []sheetReader
	logger  *slog.Logger
}

func NewSpreadsheetExtractor(logger *slog.Logger) *SpreadsheetExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpreadsheetExtractor{
		readers: []sheetReader{typedReader{}, streamReader{}},
		logger:  logger,
	}
}

func (e *SpreadsheetExtractor) Extract(ctx context.Context, src Source) *entity.ExtractionResult {
	name := src.Name()
	return guard(e.logger, constants.FileTypeExcel, name, func() *entity.ExtractionResult {
		data, err := src.Bytes()
		if err != nil {
			return entity.ErrorResult(constants.FileTypeExcel, name, "failed to read spreadsheet", err)
		}

		var failures []string
		var errs []error
		for _, r := range e.readers {
			sheets, err := r.read(ctx, data)
			if err != nil {
				e.logger.Warn("spreadsheet reader failed", "reader", r.name(), "file", name, "error", err)
				failures = append(failures, fmt.Sprintf("%s: %v", r.name(), err))
				errs = append(errs, err)
				continue
			}
			res := entity.NewResult(constants.FileTypeExcel, name)
			res.Sheets = sheets
			res.FullText = sheetsText(sheets)
			if len(failures) > 0 {
				res.SetMeta("fallback_reason", strings.Join(failures, "; "))
			}
			return res.Succeed(r.name())
		}

		msg := fmt.Sprintf("could not read spreadsheet (%s); %s", strings.Join(failures, "; "), spreadsheetGuidance)
		return entity.ErrorResult(constants.FileTypeExcel, name, msg, errors.Join(errs...))
	})
}

// typedReader keeps numeric and boolean cells typed.
type typedReader struct{}

func (typedReader) name() string { return constants.MethodExcelize }

func (typedReader) read(ctx context.Context, data []byte) ([]entity.Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := make([]entity.Sheet, 0, len(f.GetSheetList()))
	for _, sheetName := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		display, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
		}
		raw, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
		}
		cell := func(row, col int) any {
			shown := at(display, row, col)
			if shown == "" {
				return ""
			}
			ref, err := excelize.CoordinatesToCellName(col+1, row+1)
			if err != nil {
				return shown
			}
			typ, err := f.GetCellType(sheetName, ref)
			if err != nil {
				return shown
			}
			return typedValue(typ, shown, at(raw, row, col))
		}
		sheets = append(sheets, buildSheet(sheetName, display, cell))
	}
	return sheets, nil
}

// streamReader walks rows with the excelize row iterator. Every value is a string.
type streamReader struct{}

func (streamReader) name() string { return constants.MethodExcelizeStream }

func (streamReader) read(ctx context.Context, data []byte) ([]entity.Sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheets []entity.Sheet
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.Rows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
		}
		var grid [][]string
		for rows.Next() {
			if err := ctx.Err(); err != nil {
				_ = rows.Close()
				return nil, err
			}
			cols, err := rows.Columns()
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
			}
			grid = append(grid, cols)
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", sheetName, err)
		}
		sheets = append(sheets, buildSheet(sheetName, grid, func(row, col int) any {
			return at(grid, row, col)
		}))
	}
	if sheets == nil {
		sheets = []entity.Sheet{}
	}
	return sheets, nil
}

// buildSheet treats the first row as the header. Blank headers become
// Column_<n>, duplicates get a .<k> suffix and missing cells are "".
func buildSheet(name string, grid [][]string, cell func(row, col int) any) entity.Sheet {
	sheet := entity.Sheet{Name: name, Columns: []string{}, Data: []entity.Row{}}
	if len(grid) == 0 {
		return sheet
	}

	width := 0
	for _, r := range grid {
		width = max(width, len(r))
	}
	seen := make(map[string]int, width)
	for col := range width {
		h := strings.TrimSpace(at(grid, 0, col))
		if h == "" {
			h = fmt.Sprintf("Column_%d", col+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		sheet.Columns = append(sheet.Columns, h)
	}

	for row := 1; row < len(grid); row++ {
		r := make(entity.Row, 0, width)
		for col, key := range sheet.Columns {
			r = append(r, entity.Cell{Key: key, Value: cell(row, col)})
		}
		sheet.Data = append(sheet.Data, r)
	}
	sheet.Rows = len(sheet.Data)
	return sheet
}

// typedValue maps a cell to int64, float64 or bool when the stored value is
// shown unformatted; anything carrying a display format stays a string.
func typedValue(typ excelize.CellType, shown, raw string) any {
	switch typ {
	case excelize.CellTypeBool:
		switch raw {
		case "1", "TRUE", "true":
			return true
		case "0", "FALSE", "false":
			return false
		}
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if shown != raw {
			return shown
		}
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return i
		}
		if fv, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(fv, 0) && !math.IsNaN(fv) {
			if fv == math.Trunc(fv) && math.Abs(fv) < 1<<53 {
				return int64(fv)
			}
			return fv
		}
	}
	return shown
}

func at(grid [][]string, row, col int) string {
	if row >= len(grid) || col >= len(grid[row]) {
		return ""
	}
	return grid[row][col]
}

func sheetsText(sheets []entity.Sheet) string {
	var parts []string
	for _, s := range sheets {
		parts = append(parts, SheetText(s))
	}
	return strings.Join(parts, "\n\n")
}

// SheetText renders a sheet as a "=== Sheet: name ===" header followed by the
// column row and one " | "-joined line per data row.
func SheetText(s entity.Sheet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Sheet: %s ===", s.Name)
	if len(s.Columns) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(s.Columns, " | "))
	}
	for _, row := range s.Data {
		vals := make([]string, 0, len(row))
		for _, c := range row {
			vals = append(vals, fmt.Sprint(c.Value))
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(vals, " | "))
	}
	return b.String()
}
