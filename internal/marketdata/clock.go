package marketdata

import "time"

// SessionClock reports market hours for a fixed weekday session in the
// exchange's location (default: US equities, 09:30-16:00 Eastern).
type SessionClock struct {
	loc       *time.Location
	openMins  int
	closeMins int
	now       func() time.Time
}

func NewSessionClock() *SessionClock {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return &SessionClock{
		loc:       loc,
		openMins:  9*60 + 30,
		closeMins: 16 * 60,
		now:       time.Now,
	}
}

func (c *SessionClock) IsOpen() bool {
	now := c.now().In(c.loc)

	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	mins := now.Hour()*60 + now.Minute()
	return mins >= c.openMins && mins < c.closeMins
}

// AlwaysOpenClock is used by paper-mode demos and tests.
type AlwaysOpenClock struct{}

func (AlwaysOpenClock) IsOpen() bool { return true }
