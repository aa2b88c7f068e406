package chrono

import "time"

// API is the interface that anything depending on the system clock should use.
type API interface {
	// Now returns the current time in Location().
	Now() time.Time
	Location() *time.Location
}

type StandardImpl struct {
	location *time.Location
}

// NewStandardImpl loads the named IANA location, an empty name means UTC.
func NewStandardImpl(location string) (StandardImpl, error) {
	loc, err := time.LoadLocation(location)
	if err != nil {
		return StandardImpl{}, err
	}
	return StandardImpl{location: loc}, nil
}

func (s StandardImpl) Now() time.Time {
	return time.Now().In(s.location)
}

func (s StandardImpl) Location() *time.Location {
	return s.location
}

// FixedImpl always returns the same instant, used in tests and for backfills.
type FixedImpl struct {
	At time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.At
}

func (f FixedImpl) Location() *time.Location {
	return f.At.Location()
}

// Day truncates t to midnight of its calendar day in UTC, this is the
// representation every calendar date in the module uses.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the calendar day before the current day of api.
func Yesterday(api API) time.Time {
	return Day(api.Now()).AddDate(0, 0, -1)
}
