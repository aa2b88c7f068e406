package session

import (
	"fmt"
	"strconv"
	"time"
)

// DateRange is an inclusive range of calendar days, Start is never after End.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func NewDateRange(start, end time.Time) (DateRange, error) {
	start = truncateDay(start)
	end = truncateDay(end)
	if start.After(end) {
		return DateRange{}, fmt.Errorf(
			"invalid date range: start %s is after end %s",
			start.Format(time.DateOnly), end.Format(time.DateOnly),
		)
	}
	return DateRange{Start: start, End: end}, nil
}

// WindowFor returns the range searched to extract target: the windowDays days
// ending on target plus the day after, so the dashboard always renders enough
// rows for the positional selection.
func WindowFor(target time.Time, windowDays int) DateRange {
	if windowDays < 1 {
		windowDays = 1
	}
	target = truncateDay(target)
	return DateRange{
		Start: target.AddDate(0, 0, -(windowDays - 1)),
		End:   target.AddDate(0, 0, 1),
	}
}

func (r DateRange) String() string {
	return fmt.Sprintf("%s..%s", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}

type dateField struct {
	name  string
	loc   Locator
	value string
}

// fields lists the form fields in the order they are set: year, month, day of
// the start date then of the end date. Values carry no leading zeros.
func (r DateRange) fields(l Locators) []dateField {
	return []dateField{
		{name: "start year", loc: l.StartYear, value: strconv.Itoa(r.Start.Year())},
		{name: "start month", loc: l.StartMonth, value: strconv.Itoa(int(r.Start.Month()))},
		{name: "start day", loc: l.StartDay, value: strconv.Itoa(r.Start.Day())},
		{name: "end year", loc: l.EndYear, value: strconv.Itoa(r.End.Year())},
		{name: "end month", loc: l.EndMonth, value: strconv.Itoa(int(r.End.Month()))},
		{name: "end day", loc: l.EndDay, value: strconv.Itoa(r.End.Day())},
	}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
