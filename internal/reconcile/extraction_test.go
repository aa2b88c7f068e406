package reconcile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestParseExtraction(t *testing.T) {
	input := "\ufeffUser ID,Registration Type, Registration Source ,Campaign Source,Extra\n" +
		"1,Direct,content.techgig.com,c1,x\n" +
		"\n" +
		"2,Direct,\"Organic, search\",c2\n" +
		"3,Social,UnknownX\n"

	records, err := ParseExtraction(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, []RawRecord{
		{RegistrationType: "Direct", RegistrationSource: "content.techgig.com", CampaignSource: "c1"},
		{RegistrationType: "Direct", RegistrationSource: "Organic, search", CampaignSource: "c2"},
		{RegistrationType: "Social", RegistrationSource: "UnknownX", CampaignSource: ""},
	}, records)
}

func TestParseExtractionMissingColumns(t *testing.T) {
	_, err := ParseExtraction(strings.NewReader("Registration Type,Campaign Source\nDirect,c1\n"))
	require.ErrorContains(t, err, "Registration Source")

	_, err = ParseExtraction(strings.NewReader(""))
	require.Error(t, err)
}

func TestLoadExtraction(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadExtraction(filepath.Join(dir, "missing.csv"))
	require.ErrorIs(t, err, ErrExtractionFileMissing)

	csvPath := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Registration Type,Registration Source,Campaign Source\nDirect,Organic,c\n"), 0644))
	records, err := LoadExtraction(csvPath)
	require.NoError(t, err)
	require.Equal(t, []RawRecord{{RegistrationType: "Direct", RegistrationSource: "Organic", CampaignSource: "c"}}, records)

	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Campaign Source", "Registration Source", "Registration Type"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"c", "newsletter", "Direct"}))
	xlsxPath := filepath.Join(dir, "export.xlsx")
	require.NoError(t, f.SaveAs(xlsxPath))

	records, err = LoadExtraction(xlsxPath)
	require.NoError(t, err)
	require.Equal(t, []RawRecord{{RegistrationType: "Direct", RegistrationSource: "newsletter", CampaignSource: "c"}}, records)
}
