package lookup

import (
	"path/filepath"
	"regreport/internal/components/telemetry"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeLookupWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	_, err := f.NewSheet(DefaultSheet)
	require.NoError(t, err)

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(DefaultSheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "lookup.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestResolveIsTotal(t *testing.T) {
	table := NewTable([]Entry{
		{Raw: "content.techgig.com", Canonical: "content.techgig.com"},
		{Raw: "google", Canonical: "Organic"},
		{Raw: "fb", Canonical: "Social Media"},
		{Raw: "blank", Canonical: ""},
	})

	inputs := []string{"content.techgig.com", "google", "fb", "blank", "UnknownX", "", "GOOGLE", " google"}
	expected := []string{"content.techgig.com", "Organic", "Social Media", "", "", "", "", ""}

	for i, raw := range inputs {
		require.NotPanics(t, func() {
			require.Equal(t, expected[i], table.Resolve(raw), raw)
		})
	}

	_, ok := table.Lookup("blank")
	require.True(t, ok)
	_, ok = table.Lookup("UnknownX")
	require.False(t, ok)
}

func TestDuplicateKeysLastValueWins(t *testing.T) {
	table := NewTable([]Entry{
		{Raw: "a", Canonical: "first"},
		{Raw: "b", Canonical: "B"},
		{Raw: "a", Canonical: "second"},
	})

	require.Equal(t, 2, table.Len())
	require.Equal(t, "second", table.Resolve("a"))
	require.Equal(t, []Entry{{Raw: "a", Canonical: "second"}, {Raw: "b", Canonical: "B"}}, table.Entries())
	require.Equal(t, []string{"a"}, table.Duplicates())
}

func TestSuggest(t *testing.T) {
	table := NewTable([]Entry{
		{Raw: "linkedin.com", Canonical: "Social Media"},
		{Raw: "newsletter", Canonical: "Delivery"},
	})

	entry, sim := table.Suggest("linkedn.com")
	require.Equal(t, "linkedin.com", entry.Raw)
	require.Greater(t, sim, 0.8)

	_, sim = NewTable(nil).Suggest("anything")
	require.Zero(t, sim)
}

func TestLoadWorkbook(t *testing.T) {
	path := writeLookupWorkbook(t, [][]any{
		{"No", "Source (Dashboard)", "Actual Source"},
		{1, "content.techgig.com", "content.techgig.com"},
		{2, "Organic", "Organic"},
		{3, "", "ignored"},
		{4, "mailer", "Delivery"},
		{5, "mailer", "Delivery 2"},
		{6, "half"},
	})

	tel := telemetry.NewRecorder()
	table, err := LoadWorkbook(path, "", tel)
	require.NoError(t, err)

	require.Equal(t, 4, table.Len())
	require.Equal(t, "Organic", table.Resolve("Organic"))
	require.Equal(t, "Delivery 2", table.Resolve("mailer"))
	require.Equal(t, "", table.Resolve("half"))
	require.Len(t, tel.Find("warning", report_load_workbook), 1)
}

func TestLoadWorkbookMissing(t *testing.T) {
	_, err := LoadWorkbook(filepath.Join(t.TempDir(), "nope.xlsx"), DefaultSheet, telemetry.NewRecorder())
	require.ErrorIs(t, err, ErrLookupFileMissing)
}

func TestLoadWorkbookMissingSheet(t *testing.T) {
	f := excelize.NewFile()
	path := filepath.Join(t.TempDir(), "other.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	tel := telemetry.NewRecorder()
	_, err := LoadWorkbook(path, DefaultSheet, tel)
	require.Error(t, err)
	require.Len(t, tel.Find("broken", report_load_workbook), 1)
}
