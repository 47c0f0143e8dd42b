package core

import (
	"bytes"
	"fmt"

	"github.com/extrame/xls"
	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
)

const (
	formatXLSX = "xlsx"
	formatXLS  = "xls"

	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimeXLS  = "application/vnd.ms-excel"
)

var (
	zipMagic  = []byte{'P', 'K', 0x03, 0x04}
	ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// spreadsheetFormat identifies XLSX or XLS content, or returns "".
func spreadsheetFormat(data []byte) string {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is(mimeXLSX):
		return formatXLSX
	case mt.Is(mimeXLS):
		return formatXLS
	case bytes.HasPrefix(data, zipMagic):
		return formatXLSX
	case bytes.HasPrefix(data, ole2Magic):
		return formatXLS
	}
	return ""
}

// readSpreadsheet reads the first sheet of a workbook as raw lines.
func readSpreadsheet(data []byte) ([]rawLine, string, error) {
	switch format := spreadsheetFormat(data); format {
	case formatXLSX:
		lines, err := readXLSX(data)
		return lines, format, err
	case formatXLS:
		lines, err := readXLS(data)
		return lines, format, err
	default:
		return nil, "", &StructuralError{Reason: "not a recognised spreadsheet (expected .xlsx or .xls)"}
	}
}

func readXLSX(data []byte) ([]rawLine, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, &StructuralError{Reason: "open workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, &StructuralError{Reason: "workbook has no sheets"}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, &StructuralError{Reason: fmt.Sprintf("read sheet %q", sheets[0]), Err: err}
	}
	defer rows.Close()

	var out []rawLine
	line := 0
	for rows.Next() {
		line++
		cols, err := rows.Columns()
		if err != nil {
			out = append(out, rawLine{line: line, malformed: err.Error()})
			continue
		}
		out = append(out, rawLine{line: line, cells: cols})
	}
	if err := rows.Error(); err != nil {
		return nil, &StructuralError{Reason: "read rows", Err: err}
	}
	return out, nil
}

func readXLS(data []byte) ([]rawLine, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, &StructuralError{Reason: "open legacy workbook", Err: err}
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, &StructuralError{Reason: "workbook has no sheets"}
	}

	var out []rawLine
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			out = append(out, rawLine{line: i + 1})
			continue
		}
		cells := make([]string, 0, row.LastCol())
		for c := 0; c < row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		out = append(out, rawLine{line: i + 1, cells: cells})
	}
	return out, nil
}
