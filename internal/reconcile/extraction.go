package reconcile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrExtractionFileMissing = errors.New("extraction file missing")

var requiredExtractionColumns = []string{
	ColumnRegistrationType,
	ColumnRegistrationSource,
	ColumnCampaignSource,
}

// ParseExtraction reads a comma-delimited extraction. Columns are located by
// header name, extra columns are ignored and a UTF-8 BOM is tolerated.
func ParseExtraction(r io.Reader) ([]RawRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read extraction: %w", err)
	}
	return recordsFromTable(records)
}

// LoadExtraction reads the extraction at path. Spreadsheets (.xlsx) are read
// from their first sheet, everything else is parsed as comma-delimited text.
func LoadExtraction(path string) ([]RawRecord, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrExtractionFileMissing, path)
	}

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		rows, err := f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, err
		}
		return recordsFromTable(rows)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ParseExtraction(file)
}

func recordsFromTable(rows [][]string) ([]RawRecord, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("extraction has no header row")
	}

	header := map[string]int{}
	for i, name := range rows[0] {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		name = strings.TrimSpace(name)
		if _, exists := header[name]; !exists {
			header[name] = i
		}
	}

	missing := []string{}
	for _, col := range requiredExtractionColumns {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("extraction is missing columns: %s", strings.Join(missing, ", "))
	}

	get := func(row []string, col string) string {
		idx := header[col]
		if idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	out := make([]RawRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		out = append(out, RawRecord{
			RegistrationType:   get(row, ColumnRegistrationType),
			RegistrationSource: get(row, ColumnRegistrationSource),
			CampaignSource:     get(row, ColumnCampaignSource),
		})
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
