package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/tender-docs/constants"
	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

func TestSpreadsheetTypedValues(t *testing.T) {
	data := workbook(t, map[string][][]any{
		"Sheet1": {
			{"Name", "Score", "Rate", "Active"},
			{"Acme", 85, 2.5, true},
		},
	}, "Sheet1")

	res := NewSpreadsheetExtractor(nil).Extract(context.Background(), Source{Data: data, Filename: "bids.xlsx"})
	require.Equal(t, constants.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, constants.MethodExcelize, res.ExtractionMethod)
	assert.Equal(t, constants.FileTypeExcel, res.FileType)
	require.Len(t, res.Sheets, 1)

	sheet := res.Sheets[0]
	assert.Equal(t, "Sheet1", sheet.Name)
	assert.Equal(t, 1, sheet.Rows)
	assert.Equal(t, []string{"Name", "Score", "Rate", "Active"}, sheet.Columns)

	row := sheet.Data[0]
	v, _ := row.Get("Name")
	assert.Equal(t, "Acme", v)
	v, _ = row.Get("Score")
	assert.Equal(t, int64(85), v)
	v, _ = row.Get("Rate")
	assert.Equal(t, 2.5, v)
	v, _ = row.Get("Active")
	assert.Equal(t, true, v)

	raw, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Name":"Acme","Score":85,"Rate":2.5,"Active":true}`, string(raw))
	require.NoError(t, entity.ValidateResult(res))
}

func TestSpreadsheetRoundTripDimensions(t *testing.T) {
	const n, m = 7, 4
	grid := [][]any{{}}
	for c := range m {
		grid[0] = append(grid[0], fmt.Sprintf("col%d", c))
	}
	for r := range n {
		var row []any
		for c := range m {
			row = append(row, fmt.Sprintf("r%dc%d", r, c))
		}
		grid = append(grid, row)
	}
	data := workbook(t, map[string][][]any{"Prices": grid, "Empty": nil}, "Prices", "Empty")

	res := NewSpreadsheetExtractor(nil).Extract(context.Background(), Source{Data: data, Filename: "prices.xlsx"})
	require.Equal(t, constants.StatusSuccess, res.Status, res.Message)
	require.Len(t, res.Sheets, 2)

	prices := res.Sheets[0]
	assert.Equal(t, "Prices", prices.Name)
	assert.Equal(t, n, prices.Rows)
	assert.Len(t, prices.Data, n)
	assert.Len(t, prices.Columns, m)
	for _, row := range prices.Data {
		assert.Len(t, row, m)
	}
	v, _ := prices.Data[n-1].Get("col3")
	assert.Equal(t, fmt.Sprintf("r%dc%d", n-1, 3), v)

	empty := res.Sheets[1]
	assert.Equal(t, "Empty", empty.Name)
	assert.Zero(t, empty.Rows)
	assert.Empty(t, empty.Columns)
	assert.Empty(t, empty.Data)
}

func TestSpreadsheetBlankHeadersAndMissingCells(t *testing.T) {
	data := workbook(t, map[string][][]any{
		"Sheet1": {
			{"Item", nil, "Item"},
			{"Cement", nil, "Steel"},
			{"Sand", "bags"},
		},
	}, "Sheet1")

	res := NewSpreadsheetExtractor(nil).Extract(context.Background(), Source{Data: data, Filename: "items.xlsx"})
	require.Equal(t, constants.StatusSuccess, res.Status, res.Message)
	sheet := res.Sheets[0]
	assert.Equal(t, []string{"Item", "Column_2", "Item.1"}, sheet.Columns)
	require.Len(t, sheet.Data, 2)

	v, _ := sheet.Data[0].Get("Column_2")
	assert.Equal(t, "", v)
	v, _ = sheet.Data[1].Get("Item.1")
	assert.Equal(t, "", v)
	v, _ = sheet.Data[1].Get("Column_2")
	assert.Equal(t, "bags", v)
}

func TestSpreadsheetStreamFallback(t *testing.T) {
	data := workbook(t, map[string][][]any{"Sheet1": {{"Name", "Score"}, {"Acme", 85}}}, "Sheet1")
	ex := NewSpreadsheetExtractor(nil)
	ex.readers = []sheetReader{failingReader{}, streamReader{}}

	res := ex.Extract(context.Background(), Source{Data: data, Filename: "bids.xlsx"})
	require.Equal(t, constants.StatusSuccess, res.Status, res.Message)
	assert.Equal(t, constants.MethodExcelizeStream, res.ExtractionMethod)
	assert.Contains(t, res.Metadata["fallback_reason"], "broken")

	v, _ := res.Sheets[0].Data[0].Get("Score")
	assert.Equal(t, "85", v)
}

func TestSpreadsheetUnreadable(t *testing.T) {
	res := NewSpreadsheetExtractor(nil).Extract(context.Background(), Source{Data: []byte("not a workbook"), Filename: "legacy.xls"})
	assert.Equal(t, constants.StatusError, res.Status)
	assert.Empty(t, res.ExtractionMethod)
	assert.Contains(t, res.Message, constants.MethodExcelize)
	assert.Contains(t, res.Message, constants.MethodExcelizeStream)
	assert.Contains(t, res.Message, "convert-to xlsx")
	assert.NoError(t, res.Check())
}

func TestSheetText(t *testing.T) {
	sheet := entity.Sheet{
		Name:    "Bids",
		Columns: []string{"Name", "Score"},
		Data:    []entity.Row{{{Key: "Name", Value: "Acme"}, {Key: "Score", Value: int64(85)}}},
	}
	assert.Equal(t, "=== Sheet: Bids ===\nName | Score\nAcme | 85", SheetText(sheet))
}

type failingReader struct{}

func (failingReader) name() string { return "broken" }
func (failingReader) read(context.Context, []byte) ([]entity.Sheet, error) {
	return nil, fmt.Errorf("broken reader")
}
