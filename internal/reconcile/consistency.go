package reconcile

import (
	"regreport/internal/components/telemetry"
	"strings"
)

// BlockAnomaly is a date whose rows are split into more than one contiguous
// run in the dataset.
type BlockAnomaly struct {
	Date   string
	Blocks int
	Rows   int
}

// CheckConsistency returns every date whose rows do not form a single
// contiguous block, in order of first appearance. A dataset produced by
// Reconcile never has any.
func CheckConsistency(dataset Dataset) []BlockAnomaly {
	blocks := map[string]int{}
	rows := map[string]int{}
	order := []string{}

	prev := ""
	for i, row := range dataset.Rows {
		key := strings.TrimSpace(row.Date)
		if _, seen := rows[key]; !seen {
			order = append(order, key)
		}
		rows[key]++
		if i == 0 || key != prev {
			blocks[key]++
		}
		prev = key
	}

	var out []BlockAnomaly
	for _, key := range order {
		if blocks[key] > 1 {
			out = append(out, BlockAnomaly{Date: key, Blocks: blocks[key], Rows: rows[key]})
		}
	}
	return out
}

// ReportAnomalies logs each anomaly as a warning, it never fails the run.
func ReportAnomalies(tel telemetry.API, anomalies []BlockAnomaly) {
	for _, a := range anomalies {
		tel.ReportWarning(report_consistency, "date is split across blocks", a.Date, a.Blocks, a.Rows)
	}
}
