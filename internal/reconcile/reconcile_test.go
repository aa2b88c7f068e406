package reconcile

import (
	"regreport/internal/components/telemetry"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var testResolver = ResolverFunc(func(raw string) string {
	switch raw {
	case "content.techgig.com":
		return "content.techgig.com"
	case "Organic", "google":
		return "Organic"
	case "newsletter":
		return "Delivery"
	}
	return ""
})

func threeRecords() []RawRecord {
	return []RawRecord{
		{RegistrationType: "Direct", RegistrationSource: "content.techgig.com", CampaignSource: "c1"},
		{RegistrationType: "Direct", RegistrationSource: "Organic", CampaignSource: "c2"},
		{RegistrationType: "Social", RegistrationSource: "UnknownX", CampaignSource: "c3"},
	}
}

func TestReconcileEndToEnd(t *testing.T) {
	target := day(2026, time.January, 15)

	dataset, report := Reconcile(threeRecords(), target, testResolver, Dataset{})
	require.Equal(t, 3, dataset.Len())
	require.Equal(t, 0, report.Replaced)
	require.Equal(t, 1, report.UnmappedRows)
	require.Equal(t, []string{"UnknownX"}, report.Unmapped)

	for _, row := range dataset.Rows {
		require.Equal(t, "15-01-2026", row.Date)
	}
	require.Equal(t, "", dataset.Rows[2].NewSource)
	require.Equal(t, "UnknownX", dataset.Rows[2].RegistrationSource)

	pivot := BuildPivot(dataset)
	expected := [][]string{
		{"Source", "01-15-2026", "Total"},
		{"content.techgig.com", "1", "1"},
		{"Organic", "1", "1"},
		{"Delivery", "-", "0"},
		{"Social Media", "-", "0"},
		{"", "1", "1"},
		{"Total of Registration", "3", "3"},
	}
	if diff := cmp.Diff(expected, pivot.Table()); diff != "" {
		t.Fatalf("pivot mismatch (-want +got):\n%s", diff)
	}

	// a second run for the same day replaces instead of duplicating
	rerun, report := Reconcile(threeRecords(), target, testResolver, dataset)
	require.Equal(t, 3, rerun.Len())
	require.Equal(t, 3, report.Replaced)
	require.Equal(t, 3, BuildPivot(rerun).GrandTotal)
}

func TestReconcileIsIdempotent(t *testing.T) {
	existing := Dataset{Rows: []Row{
		{Date: "14-01-2026", RegistrationSource: "google", NewSource: "Organic"},
		{Date: "12-01-2026", RegistrationSource: "newsletter", NewSource: "Delivery"},
		{Date: "not a date", RegistrationSource: "x"},
		{Date: "13-01-2026", RegistrationSource: "google", NewSource: "Organic"},
		{Date: "", RegistrationSource: "y"},
	}}
	target := day(2026, time.January, 15)

	once, _ := Reconcile(threeRecords(), target, testResolver, existing)
	twice, _ := Reconcile(threeRecords(), target, testResolver, once)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Fatalf("reconcile is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestReconcileDoesNotModifyInput(t *testing.T) {
	existing := Dataset{Rows: []Row{
		{Date: "14-01-2026", RegistrationSource: "google", NewSource: "Organic"},
		{Date: "15-01-2026", RegistrationSource: "old", NewSource: "Delivery"},
	}}
	snapshot := Dataset{Rows: append([]Row(nil), existing.Rows...)}

	Reconcile(threeRecords(), day(2026, time.January, 15), testResolver, existing)
	require.Equal(t, snapshot, existing)
}

func TestReconcileOrdering(t *testing.T) {
	existing := Dataset{Rows: []Row{
		{Date: "12-01-2026", RegistrationSource: "a"},
		{Date: "garbage", RegistrationSource: "tail-1"},
		{Date: "14-01-2026", RegistrationSource: "b"},
		{Date: "12-01-2026", RegistrationSource: "c"},
		{Date: "31-12-2025", RegistrationSource: "d"},
		{Date: "", RegistrationSource: "tail-2"},
	}}

	out, report := Reconcile([]RawRecord{
		{RegistrationSource: "new-1"},
		{RegistrationSource: "new-2"},
	}, day(2026, time.January, 13), testResolver, existing)

	got := []string{}
	for _, row := range out.Rows {
		got = append(got, row.Date+"/"+row.RegistrationSource)
	}
	expected := []string{
		"14-01-2026/b",
		"13-01-2026/new-1",
		"13-01-2026/new-2",
		"12-01-2026/a",
		"12-01-2026/c",
		"31-12-2025/d",
		"garbage/tail-1",
		"/tail-2",
	}
	require.Equal(t, expected, got)
	require.Equal(t, 2, report.Unsortable)
	require.Equal(t, 8, report.Total)
	require.Empty(t, CheckConsistency(out))
}

func TestReconcileReplacesEveryRowOfTheDay(t *testing.T) {
	existing := Dataset{Rows: []Row{
		{Date: "15-01-2026", RegistrationSource: "old-1"},
		{Date: "14-01-2026", RegistrationSource: "keep"},
		// the same day split into a second block must also go
		{Date: " 15-01-2026", RegistrationSource: "old-2"},
	}}

	out, report := Reconcile([]RawRecord{{RegistrationSource: "fresh"}}, day(2026, time.January, 15), testResolver, existing)
	require.Equal(t, 2, report.Replaced)
	require.Equal(t, []Row{
		{Date: "15-01-2026", RegistrationSource: "fresh"},
		{Date: "14-01-2026", RegistrationSource: "keep"},
	}, out.Rows)
}

func TestReportTo(t *testing.T) {
	tel := telemetry.NewRecorder()
	report := Report{
		Extracted:  2,
		Unmapped:   []string{"linkedn.com", "zzz"},
		Unsortable: 1,
		Total:      9,
	}
	report.ReportTo(tel, func(raw string) (string, float64) {
		if raw == "linkedn.com" {
			return "linkedin.com", 0.97
		}
		return "", 0.2
	})

	warnings := tel.Find("warning", report_reconcile)
	require.Len(t, warnings, 3)
	require.Contains(t, warnings[0].Params, "linkedin.com")
	require.NotContains(t, warnings[1].Params, "did you mean")
	require.Len(t, tel.Find("count", "reconcile.dataset-rows"), 1)
}

func TestCheckConsistency(t *testing.T) {
	dataset := Dataset{Rows: []Row{
		{Date: "15-01-2026"},
		{Date: "15-01-2026"},
		{Date: "14-01-2026"},
		{Date: "15-01-2026"},
		{Date: "13-01-2026"},
		{Date: "14-01-2026"},
		{Date: "14-01-2026"},
	}}

	expected := []BlockAnomaly{
		{Date: "15-01-2026", Blocks: 2, Rows: 3},
		{Date: "14-01-2026", Blocks: 2, Rows: 3},
	}
	require.Equal(t, expected, CheckConsistency(dataset))
	require.Empty(t, CheckConsistency(Dataset{}))

	tel := telemetry.NewRecorder()
	ReportAnomalies(tel, expected)
	require.Len(t, tel.Find("warning", report_consistency), 2)
}
