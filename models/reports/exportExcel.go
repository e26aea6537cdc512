package reports

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExcelExporter is a report row that can be written as one spreadsheet line.
type ExcelExporter interface {
	GetCellValues() []interface{}
}

type sheet struct {
	name     string
	headings []string
	rows     []ExcelExporter
}

// writeWorkbook writes each sheet with a bold heading row and returns the xlsx bytes.
func writeWorkbook(sheets ...sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return nil, err
		}

		for col, h := range s.headings {
			cell, err := excelize.CoordinatesToCellName(col+1, 1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(s.name, cell, h); err != nil {
				return nil, err
			}
		}
		if len(s.headings) > 0 {
			last, _ := excelize.CoordinatesToCellName(len(s.headings), 1)
			if err := f.SetCellStyle(s.name, "A1", last, bold); err != nil {
				return nil, err
			}
		}

		for r, row := range s.rows {
			for col, value := range row.GetCellValues() {
				cell, err := excelize.CoordinatesToCellName(col+1, r+2)
				if err != nil {
					return nil, err
				}
				if err := f.SetCellValue(s.name, cell, value); err != nil {
					return nil, fmt.Errorf("%s %s: %w", s.name, cell, err)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
