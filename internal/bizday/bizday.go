// Package bizday maps instants onto the business calendar, which runs at a
// fixed offset from UTC regardless of where the server is hosted.
package bizday

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

type Calendar struct {
	loc *time.Location
}

func New(offsetHours int) Calendar {
	return Calendar{loc: time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)}
}

func (c Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Date returns the business date t falls on, as YYYY-MM-DD.
func (c Calendar) Date(t time.Time) string {
	return t.In(c.Location()).Format(dateLayout)
}

// Day returns the UTC bounds [from, to) of the business day containing t.
func (c Calendar) Day(t time.Time) (time.Time, time.Time) {
	local := t.In(c.Location())
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.Location())
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// Month returns the UTC bounds [from, to) of the business month containing t.
func (c Calendar) Month(t time.Time) (time.Time, time.Time) {
	local := t.In(c.Location())
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.Location())
	return start.UTC(), start.AddDate(0, 1, 0).UTC()
}

// ParseDay resolves a YYYY-MM-DD business date, or the current business day
// when date is empty, into its label and UTC bounds.
func (c Calendar) ParseDay(date string, now time.Time) (string, time.Time, time.Time, error) {
	date = strings.TrimSpace(date)
	if date == "" {
		from, to := c.Day(now)
		return c.Date(now), from, to, nil
	}
	day, err := time.ParseInLocation(dateLayout, date, c.Location())
	if err != nil {
		return "", time.Time{}, time.Time{}, fmt.Errorf("%w: %q must be YYYY-MM-DD", ErrInvalidDate, date)
	}
	from, to := c.Day(day)
	return date, from, to, nil
}
