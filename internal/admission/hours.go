package admission

import (
	"slices"
	"time"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

const daysPerWeek = 7

// isoWeekday maps Sunday to 7.
func isoWeekday(t time.Time) int {
	d := int(t.Weekday())
	if d == 0 {
		return daysPerWeek
	}
	return d
}

func dayAllowed(wh *domain.WorkingHours, d int) bool {
	weekend := d >= 6
	if slices.Contains(wh.Days, d) && (!weekend || wh.AllowWeekends) {
		return true
	}
	return wh.AllowWeekends && weekend
}

// Contains reports whether t falls inside the working window. The end
// minute is inclusive. A window whose end precedes its start runs past
// midnight and belongs to the day it starts on.
func Contains(wh *domain.WorkingHours, loc *time.Location, t time.Time) bool {
	start, end, err := bounds(wh)
	if err != nil {
		return false
	}
	lt := t.In(loc)
	m := lt.Hour()*60 + lt.Minute()

	if start < end {
		return dayAllowed(wh, isoWeekday(lt)) && m >= start && m <= end
	}
	if m >= start && dayAllowed(wh, isoWeekday(lt)) {
		return true
	}
	return m <= end && dayAllowed(wh, isoWeekday(lt.AddDate(0, 0, -1)))
}

// NextWindowStart returns the first window start strictly after t.
func NextWindowStart(wh *domain.WorkingHours, loc *time.Location, t time.Time) time.Time {
	start, _, err := bounds(wh)
	if err != nil {
		return time.Time{}
	}
	lt := t.In(loc)
	for i := 0; i <= daysPerWeek; i++ {
		candidate := time.Date(lt.Year(), lt.Month(), lt.Day()+i, start/60, start%60, 0, 0, loc)
		if candidate.After(t) && dayAllowed(wh, isoWeekday(candidate)) {
			return candidate
		}
	}
	return time.Time{}
}

func bounds(wh *domain.WorkingHours) (int, int, error) {
	start, err := domain.ParseClock(wh.Start)
	if err != nil {
		return 0, 0, err
	}
	end, err := domain.ParseClock(wh.End)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}
