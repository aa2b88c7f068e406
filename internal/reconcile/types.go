package reconcile

import (
	"strings"
	"time"
)

const (
	// DateLayout is how dates are stored in the longitudinal dataset (15-01-2026).
	DateLayout = "02-01-2006"
	// PivotDateLayout is how dates are shown as pivot columns (01-15-2026).
	PivotDateLayout = "01-02-2006"
)

// column names shared by the extraction file and the persisted dataset
const (
	ColumnDate               = "Date"
	ColumnRegistrationType   = "Registration Type"
	ColumnRegistrationSource = "Registration Source"
	ColumnCampaignSource     = "Campaign Source"
	ColumnNewSource          = "New Source"
)

// DatasetColumns is the persisted column order.
var DatasetColumns = []string{
	ColumnDate,
	ColumnRegistrationType,
	ColumnRegistrationSource,
	ColumnCampaignSource,
	ColumnNewSource,
}

// RawRecord is one registrant from the downloaded extraction.
type RawRecord struct {
	RegistrationType   string
	RegistrationSource string
	CampaignSource     string
}

// Row is a resolved record as it lives in the longitudinal dataset.
//
// Date is kept as text so that rows whose date cannot be parsed survive a
// round trip untouched. NewSource is "" when the source is unmapped.
type Row struct {
	Date               string
	RegistrationType   string
	RegistrationSource string
	CampaignSource     string
	NewSource          string
}

// Day parses the row's date, ok is false when it is not in DateLayout.
func (r Row) Day() (day time.Time, ok bool) {
	day, err := ParseDate(r.Date)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// Values returns the row in DatasetColumns order.
func (r Row) Values() []string {
	return []string{r.Date, r.RegistrationType, r.RegistrationSource, r.CampaignSource, r.NewSource}
}

// Dataset is the ordered longitudinal table accumulated across runs.
type Dataset struct {
	Rows []Row
}

func (d Dataset) Len() int {
	return len(d.Rows)
}

// FormatDate formats a calendar day for the dataset.
func FormatDate(day time.Time) string {
	return day.Format(DateLayout)
}

// ParseDate parses a dataset date into midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, strings.TrimSpace(s), time.UTC)
}
