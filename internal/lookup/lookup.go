// Package lookup maps the raw source labels reported by the dashboard to the
// canonical source labels used for aggregation.
package lookup

import (
	"errors"
	"fmt"
	"os"
	"regreport/internal/components/telemetry"

	"github.com/antzucaro/matchr"
	"github.com/xuri/excelize/v2"
)

const (
	report_load_workbook = "lookup.load-workbook"
)

const DefaultSheet = "Category"

var ErrLookupFileMissing = errors.New("lookup file missing")

type Entry struct {
	Raw       string
	Canonical string
}

// Table is an ordered mapping from raw label to canonical label with unique
// keys. It is read-only once built.
type Table struct {
	entries    []Entry
	index      map[string]int
	duplicates []string
}

// NewTable builds a Table from entries in order. A key that appears more than
// once keeps its first position and its last value.
func NewTable(entries []Entry) Table {
	t := Table{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		idx, exists := t.index[e.Raw]
		if exists {
			t.entries[idx].Canonical = e.Canonical
			t.duplicates = append(t.duplicates, e.Raw)
			continue
		}
		t.index[e.Raw] = len(t.entries)
		t.entries = append(t.entries, e)
	}
	return t
}

// Resolve returns the canonical label for raw, or "" when raw is not mapped.
// It never fails.
func (t Table) Resolve(raw string) string {
	canonical, _ := t.Lookup(raw)
	return canonical
}

// Lookup is Resolve that also reports whether raw had an entry.
func (t Table) Lookup(raw string) (string, bool) {
	idx, ok := t.index[raw]
	if !ok {
		return "", false
	}
	return t.entries[idx].Canonical, true
}

func (t Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t Table) Len() int {
	return len(t.entries)
}

// Duplicates lists the raw labels that appeared more than once when the table
// was built.
func (t Table) Duplicates() []string {
	return t.duplicates
}

// Suggest returns the entry whose raw label is most similar to raw by
// Jaro-Winkler similarity, used to point at likely typos for unmapped labels.
// similarity is 0 when the table is empty.
func (t Table) Suggest(raw string) (entry Entry, similarity float64) {
	for _, e := range t.entries {
		sim := matchr.JaroWinkler(raw, e.Raw, false)
		if sim > similarity {
			similarity = sim
			entry = e
		}
	}
	return entry, similarity
}

// LoadWorkbook reads a lookup table from the given sheet of a spreadsheet,
// column B holds the raw label and column C the canonical label. The first row
// is a header and rows without a raw label are skipped.
func LoadWorkbook(path, sheet string, tel telemetry.API) (Table, error) {
	tel = telemetry.NewScopedAPI("lookup", tel)

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Table{}, fmt.Errorf("%w: %s", ErrLookupFileMissing, path)
	}
	if sheet == "" {
		sheet = DefaultSheet
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		tel.ReportBroken(report_load_workbook, fmt.Errorf("open: %w", err), path)
		return Table{}, err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		tel.ReportBroken(report_load_workbook, fmt.Errorf("read sheet: %w", err), path, sheet)
		return Table{}, err
	}

	entries := []Entry{}
	for i, row := range rows {
		if i == 0 {
			continue
		}
		raw := cell(row, 1)
		if raw == "" {
			continue
		}
		entries = append(entries, Entry{
			Raw:       raw,
			Canonical: cell(row, 2),
		})
	}

	table := NewTable(entries)
	for _, dup := range table.Duplicates() {
		tel.ReportWarning(report_load_workbook, "duplicate raw label, last value wins", dup)
	}
	tel.ReportCount("lookup.entries", int64(table.Len()))

	return table, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}
