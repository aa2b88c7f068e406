// Package reconcile folds a day's extraction into the longitudinal
// registration dataset and derives the pivot summary from it.
package reconcile

import (
	"regreport/internal/components/telemetry"
	"sort"
	"time"
)

const (
	report_reconcile   = "reconcile.reconcile"
	report_consistency = "reconcile.check-consistency"
	report_pivot       = "reconcile.build-pivot"
)

// Resolver maps a raw source label to its canonical label, returning "" when
// the label is unknown.
type Resolver interface {
	Resolve(raw string) string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(raw string) string

func (f ResolverFunc) Resolve(raw string) string {
	return f(raw)
}

// Report summarizes what a reconciliation did to the dataset.
type Report struct {
	// Extracted is the number of raw records folded in.
	Extracted int
	// Replaced is the number of rows for the target date that were dropped
	// before the new block was appended.
	Replaced int
	// UnmappedRows counts appended rows whose source did not resolve.
	UnmappedRows int
	// Unmapped lists the distinct raw labels that did not resolve, in
	// first-seen order.
	Unmapped []string
	// Unsortable counts rows whose date could not be parsed, they are kept at
	// the end of the dataset in their original order.
	Unsortable int
	// Total is the size of the resulting dataset.
	Total int
}

// Reconcile tags every raw record with targetDate, resolves its source, drops
// any rows already present for targetDate and appends the new block, then
// orders the dataset by date descending.
//
// The input dataset is not modified. Running Reconcile twice with the same
// arguments on its own output yields the same dataset.
func Reconcile(raw []RawRecord, targetDate time.Time, resolver Resolver, dataset Dataset) (Dataset, Report) {
	target := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, time.UTC)
	targetText := FormatDate(target)

	report := Report{Extracted: len(raw)}

	kept := make([]Row, 0, len(dataset.Rows)+len(raw))
	for _, row := range dataset.Rows {
		if isTargetRow(row, target, targetText) {
			report.Replaced++
			continue
		}
		kept = append(kept, row)
	}

	seenUnmapped := map[string]struct{}{}
	for _, rec := range raw {
		canonical := resolver.Resolve(rec.RegistrationSource)
		if canonical == "" {
			report.UnmappedRows++
			if _, seen := seenUnmapped[rec.RegistrationSource]; !seen {
				seenUnmapped[rec.RegistrationSource] = struct{}{}
				report.Unmapped = append(report.Unmapped, rec.RegistrationSource)
			}
		}
		kept = append(kept, Row{
			Date:               targetText,
			RegistrationType:   rec.RegistrationType,
			RegistrationSource: rec.RegistrationSource,
			CampaignSource:     rec.CampaignSource,
			NewSource:          canonical,
		})
	}

	sorted, unsortable := sortByDateDescending(kept)
	report.Unsortable = unsortable
	report.Total = len(sorted)

	return Dataset{Rows: sorted}, report
}

// ReportTo writes the soft anomalies of a reconciliation to tel.
func (r Report) ReportTo(tel telemetry.API, suggest func(raw string) (string, float64)) {
	for _, raw := range r.Unmapped {
		if suggest != nil {
			if near, sim := suggest(raw); sim >= 0.85 {
				tel.ReportWarning(report_reconcile, "unmapped source", raw, "did you mean", near)
				continue
			}
		}
		tel.ReportWarning(report_reconcile, "unmapped source", raw)
	}
	if r.Unsortable > 0 {
		tel.ReportWarning(report_reconcile, "rows with unparseable dates kept at the end", r.Unsortable)
	}
	tel.ReportCount("reconcile.extracted", int64(r.Extracted))
	tel.ReportCount("reconcile.replaced", int64(r.Replaced))
	tel.ReportCount("reconcile.dataset-rows", int64(r.Total))
}

func isTargetRow(row Row, target time.Time, targetText string) bool {
	if day, ok := row.Day(); ok {
		return day.Equal(target)
	}
	return row.Date == targetText
}

func sortByDateDescending(rows []Row) ([]Row, int) {
	type dated struct {
		day time.Time
		row Row
	}

	parsed := make([]dated, 0, len(rows))
	var tail []Row
	for _, row := range rows {
		day, ok := row.Day()
		if !ok {
			tail = append(tail, row)
			continue
		}
		parsed = append(parsed, dated{day: day, row: row})
	}

	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].day.After(parsed[j].day)
	})

	out := make([]Row, 0, len(rows))
	for _, d := range parsed {
		out = append(out, d.row)
	}
	out = append(out, tail...)
	return out, len(tail)
}
