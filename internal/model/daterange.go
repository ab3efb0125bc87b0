package model

import (
	"fmt"
	"strings"
	"time"
)

// Calendar decides which dates of a range carry an observation.
type Calendar string

const (
	CalendarDaily    Calendar = "daily"    // every calendar day
	CalendarBusiness Calendar = "business" // Monday to Friday
)

// ParseCalendar converts a config string to a Calendar. Empty means daily.
func ParseCalendar(s string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "daily", "calendar":
		return CalendarDaily, nil
	case "business", "bday", "weekdays":
		return CalendarBusiness, nil
	default:
		return "", fmt.Errorf("unknown calendar %q (use: daily, business)", s)
	}
}

// DateRange is an inclusive [Start, End] range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange truncates both ends to UTC midnight.
func NewDateRange(start, end time.Time) DateRange {
	return DateRange{Start: TruncateDay(start), End: TruncateDay(end)}
}

// ParseDateRange parses two YYYY-MM-DD dates.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse start date: %w", err)
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, fmt.Errorf("parse end date: %w", err)
	}
	return DateRange{Start: s, End: e}, nil
}

// Validate rejects zero and inverted ranges.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range has a zero bound")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("date range end %s is before start %s", r.End.Format(DateLayout), r.Start.Format(DateLayout))
	}
	return nil
}

// Contains reports whether d falls within the range (date part only).
func (r DateRange) Contains(d time.Time) bool {
	d = TruncateDay(d)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Days lists the dates of the range that the calendar keeps.
func (r DateRange) Days(cal Calendar) []time.Time {
	if r.End.Before(r.Start) {
		return nil
	}
	days := make([]time.Time, 0, int(r.End.Sub(r.Start).Hours()/24)+1)
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		if cal == CalendarBusiness {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				continue
			}
		}
		days = append(days, d)
	}
	return days
}

// String renders start..end.
func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}
