package reconcile

import (
	"regreport/internal/components/telemetry"
	"sort"
	"strconv"
	"time"
)

const (
	ZeroMarker  = "-"
	TotalLabel  = "Total of Registration"
	SourceLabel = "Source"
	TotalColumn = "Total"
)

// MaxPivotDates is the widest date range a pivot sheet can hold next to its
// source and total columns.
const MaxPivotDates = 16384 - 2

// RequiredSources always appear as the first pivot rows, in this order, even
// when they have no registrations.
var RequiredSources = []string{
	"content.techgig.com",
	"Organic",
	"Delivery",
	"Social Media",
}

// Pivot is the source by date summary of a dataset. Row i < len(Sources) is
// Sources[i]; row len(Sources) is the synthetic total row.
type Pivot struct {
	Sources []string
	// Dates holds every calendar day from the earliest to the latest dated row,
	// ascending, including days with no rows.
	Dates []time.Time
	// Counts is indexed [source][date].
	Counts     [][]int
	RowTotals  []int
	DateTotals []int
	GrandTotal int
	// Skipped counts dataset rows left out because their date is unparseable.
	Skipped int
	// OutOfRange counts dated rows left out because the dataset spans more
	// than MaxPivotDates days. The window kept is the one holding the most rows.
	OutOfRange int
}

// BuildPivot summarizes dataset using RequiredSources.
func BuildPivot(dataset Dataset) Pivot {
	return BuildPivotWithSources(dataset, RequiredSources)
}

// BuildPivotWithSources summarizes dataset with required as the leading rows.
// Other canonical sources follow in first-seen order, the unmapped label ""
// included.
func BuildPivotWithSources(dataset Dataset, required []string) Pivot {
	p := Pivot{}

	sourceIndex := map[string]int{}
	addSource := func(source string) int {
		idx, ok := sourceIndex[source]
		if !ok {
			idx = len(p.Sources)
			sourceIndex[source] = idx
			p.Sources = append(p.Sources, source)
		}
		return idx
	}
	for _, source := range required {
		addSource(source)
	}

	type cell struct {
		source string
		day    time.Time
	}
	var cells []cell
	var days []time.Time
	for _, row := range dataset.Rows {
		day, ok := row.Day()
		if !ok {
			p.Skipped++
			continue
		}
		cells = append(cells, cell{source: row.NewSource, day: day})
		days = append(days, day)
	}

	var minDay time.Time
	sourceOf := make([]int, 0, len(cells))
	kept := cells[:0:0]
	if len(cells) > 0 {
		from, to := pivotWindow(days, MaxPivotDates)
		for _, c := range cells {
			if c.day.Before(from) || c.day.After(to) {
				p.OutOfRange++
				continue
			}
			kept = append(kept, c)
			sourceOf = append(sourceOf, addSource(c.source))
		}
		for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
			p.Dates = append(p.Dates, day)
		}
		minDay = from
	}

	p.Counts = make([][]int, len(p.Sources))
	for i := range p.Counts {
		p.Counts[i] = make([]int, len(p.Dates))
	}
	p.RowTotals = make([]int, len(p.Sources))
	p.DateTotals = make([]int, len(p.Dates))

	for i, c := range kept {
		col := daysBetween(minDay, c.day)
		source := sourceOf[i]
		p.Counts[source][col]++
		p.RowTotals[source]++
		p.DateTotals[col]++
		p.GrandTotal++
	}

	return p
}

// pivotWindow returns the first and last day of the range of at most width
// days that holds the most of days. Ties go to the latest range.
func pivotWindow(days []time.Time, width int) (from, to time.Time) {
	sorted := make([]time.Time, len(days))
	copy(sorted, days)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	first, last := sorted[0], sorted[len(sorted)-1]
	if daysBetween(first, last) < width {
		return first, last
	}

	best, bestLeft, bestRight := 0, 0, 0
	left := 0
	for right := range sorted {
		for daysBetween(sorted[left], sorted[right]) >= width {
			left++
		}
		if n := right - left + 1; n >= best {
			best, bestLeft, bestRight = n, left, right
		}
	}
	return sorted[bestLeft], sorted[bestRight]
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

// Rows is the number of pivot rows including the total row.
func (p Pivot) Rows() int {
	return len(p.Sources) + 1
}

// Label returns the label of a pivot row.
func (p Pivot) Label(row int) string {
	if row == len(p.Sources) {
		return TotalLabel
	}
	return p.Sources[row]
}

// Count returns the count at (row, col), the total row included.
func (p Pivot) Count(row, col int) int {
	if row == len(p.Sources) {
		return p.DateTotals[col]
	}
	return p.Counts[row][col]
}

// Total returns the row total, the grand total for the total row.
func (p Pivot) Total(row int) int {
	if row == len(p.Sources) {
		return p.GrandTotal
	}
	return p.RowTotals[row]
}

// Cell formats a count, rendering zero as ZeroMarker.
func (p Pivot) Cell(row, col int) string {
	return formatCount(p.Count(row, col))
}

// Header returns the header row: the source column, one column per date and
// the total column.
func (p Pivot) Header() []string {
	header := make([]string, 0, len(p.Dates)+2)
	header = append(header, SourceLabel)
	for _, day := range p.Dates {
		header = append(header, day.Format(PivotDateLayout))
	}
	header = append(header, TotalColumn)
	return header
}

// Table returns the pivot as text, header first. Date cells use ZeroMarker
// for zero, the total column does not.
func (p Pivot) Table() [][]string {
	out := make([][]string, 0, p.Rows()+1)
	out = append(out, p.Header())
	for row := 0; row < p.Rows(); row++ {
		line := make([]string, 0, len(p.Dates)+2)
		line = append(line, p.Label(row))
		for col := range p.Dates {
			line = append(line, p.Cell(row, col))
		}
		line = append(line, strconv.Itoa(p.Total(row)))
		out = append(out, line)
	}
	return out
}

// ReportTo logs rows left out of the pivot.
func (p Pivot) ReportTo(tel telemetry.API) {
	if p.Skipped > 0 {
		tel.ReportWarning(report_pivot, "rows with unparseable dates left out of the pivot", p.Skipped)
	}
	if p.OutOfRange > 0 {
		tel.ReportWarning(
			report_pivot, "rows outside the pivot date range left out, check their dates",
			p.OutOfRange, p.Dates[0].Format(DateLayout), p.Dates[len(p.Dates)-1].Format(DateLayout),
		)
	}
}

func formatCount(n int) string {
	if n == 0 {
		return ZeroMarker
	}
	return strconv.Itoa(n)
}
