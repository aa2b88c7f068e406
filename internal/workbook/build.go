package workbook

import (
	"io"
	"regreport/internal/reconcile"
	"regreport/pkg/fsutil"

	"github.com/xuri/excelize/v2"
)

const (
	HeaderFill = "F4B084"
	TotalFill  = "90EE90"

	sourceColumnWidth = 25
	countColumnWidth  = 12
)

// Build lays out dataset on DataSheet and pivot on PivotSheet.
func Build(dataset reconcile.Dataset, pivot reconcile.Pivot) (*excelize.File, error) {
	f := excelize.NewFile()
	err := writeRows(f, DataSheet, dataset.Rows)
	if err != nil {
		f.Close()
		return nil, err
	}
	err = writePivot(f, pivot)
	if err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// WriteRows saves rows alone as a workbook at path, used for the
// intermediate file of a single day.
func WriteRows(path string, rows []reconcile.Row) error {
	f := excelize.NewFile()
	defer f.Close()
	err := writeRows(f, DataSheet, rows)
	if err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, 0644, func(w io.Writer) error {
		return f.Write(w)
	})
}

func writeRows(f *excelize.File, sheet string, rows []reconcile.Row) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}

	header := make([]any, len(reconcile.DatasetColumns))
	for i, col := range reconcile.DatasetColumns {
		header[i] = col
	}
	err = sw.SetRow("A1", header)
	if err != nil {
		return err
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := row.Values()
		line := make([]any, len(values))
		for j, v := range values {
			line[j] = v
		}
		err = sw.SetRow(cell, line)
		if err != nil {
			return err
		}
	}
	return sw.Flush()
}

type pivotStyles struct {
	header     int
	label      int
	count      int
	totalLabel int
	totalCount int
}

func newPivotStyles(f *excelize.File) (pivotStyles, error) {
	border := []excelize.Border{
		{Type: "left", Color: "000000", Style: 1},
		{Type: "right", Color: "000000", Style: 1},
		{Type: "top", Color: "000000", Style: 1},
		{Type: "bottom", Color: "000000", Style: 1},
	}
	left := &excelize.Alignment{Horizontal: "left", Vertical: "center"}
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	bold := &excelize.Font{Bold: true, Size: 11}
	fill := func(color string) excelize.Fill {
		return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
	}

	var s pivotStyles
	var err error
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&s.header, &excelize.Style{Font: bold, Fill: fill(HeaderFill), Alignment: center, Border: border}},
		{&s.label, &excelize.Style{Alignment: left, Border: border}},
		{&s.count, &excelize.Style{Alignment: center, Border: border}},
		{&s.totalLabel, &excelize.Style{Font: bold, Fill: fill(TotalFill), Alignment: left, Border: border}},
		{&s.totalCount, &excelize.Style{Font: bold, Fill: fill(TotalFill), Alignment: center, Border: border}},
	}
	for _, d := range defs {
		*d.dst, err = f.NewStyle(d.style)
		if err != nil {
			return pivotStyles{}, err
		}
	}
	return s, nil
}

func writePivot(f *excelize.File, pivot reconcile.Pivot) error {
	_, err := f.NewSheet(PivotSheet)
	if err != nil {
		return err
	}
	styles, err := newPivotStyles(f)
	if err != nil {
		return err
	}

	header := pivot.Header()
	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}

	headerRow := make([]any, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	err = f.SetSheetRow(PivotSheet, "A1", &headerRow)
	if err != nil {
		return err
	}
	err = f.SetCellStyle(PivotSheet, "A1", lastCol+"1", styles.header)
	if err != nil {
		return err
	}

	for row := 0; row < pivot.Rows(); row++ {
		line := make([]any, 0, len(header))
		line = append(line, pivot.Label(row))
		for col := range pivot.Dates {
			count := pivot.Count(row, col)
			if count == 0 {
				line = append(line, reconcile.ZeroMarker)
			} else {
				line = append(line, count)
			}
		}
		line = append(line, pivot.Total(row))

		r := row + 2
		first, err := excelize.CoordinatesToCellName(1, r)
		if err != nil {
			return err
		}
		err = f.SetSheetRow(PivotSheet, first, &line)
		if err != nil {
			return err
		}

		labelStyle, countStyle := styles.label, styles.count
		if row == pivot.Rows()-1 {
			labelStyle, countStyle = styles.totalLabel, styles.totalCount
		}
		err = f.SetCellStyle(PivotSheet, first, first, labelStyle)
		if err != nil {
			return err
		}
		if len(header) > 1 {
			second, _ := excelize.CoordinatesToCellName(2, r)
			last, _ := excelize.CoordinatesToCellName(len(header), r)
			err = f.SetCellStyle(PivotSheet, second, last, countStyle)
			if err != nil {
				return err
			}
		}
	}

	err = f.SetColWidth(PivotSheet, "A", "A", sourceColumnWidth)
	if err != nil {
		return err
	}
	if len(header) > 1 {
		err = f.SetColWidth(PivotSheet, "B", lastCol, countColumnWidth)
		if err != nil {
			return err
		}
	}
	return nil
}
