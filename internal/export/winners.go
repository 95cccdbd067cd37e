// Package export renders winner lists as spreadsheet files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"prizedraw/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	sheetName  = "中獎名單"
)

// utf8BOM makes Excel open the CSV as UTF-8.
var utf8BOM = []byte("\xef\xbb\xbf")

var header = []string{"獎項名稱", "參與者編號", "參與者姓名", "抽獎批次", "中獎時間"}

func row(w models.Winner) []string {
	return []string{w.PrizeName, w.ParticipantID, w.ParticipantName, w.BatchID, w.CreatedAt.Format(timeLayout)}
}

// WriteCSV writes winners in order, one row each, after a header row.
func WriteCSV(out io.Writer, winners []models.Winner) error {
	if _, err := out.Write(utf8BOM); err != nil {
		return fmt.Errorf("write BOM: %w", err)
	}
	w := csv.NewWriter(out)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, winner := range winners {
		if err := w.Write(row(winner)); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteXLSX writes the same table as WriteCSV into a single-sheet workbook.
func WriteXLSX(out io.Writer, winners []models.Winner) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return err
	}
	for i, winner := range winners {
		if err := setRow(f, i+2, row(winner)); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(sheetName, "A", "E", 22); err != nil {
		return err
	}

	if err := f.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, n int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return f.SetSheetRow(sheetName, cell, &cells)
}
