// Package calendar resolves working days and shift windows in the plant's
// operating timezone. All wall-clock math for the scheduling engine lives
// here; callers pass and receive time.Time values already anchored to the
// calendar's location.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"pressline/internal/config"
)

// ErrNoWorkingDay is returned when no working day exists within the scan
// horizon. This is a configuration error, not a scheduling condition.
var ErrNoWorkingDay = errors.New("no working day found within horizon; check calendar configuration")

// scanHorizonDays bounds the forward day-by-day scan.
const scanHorizonDays = 7

type window struct {
	startHour, startMin int
	endHour, endMin     int
}

type Calendar struct {
	loc      *time.Location
	weekdays map[time.Weekday]window
	holidays map[string]bool
}

var weekdayByName = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// New builds a calendar from config. Validate has already checked clock
// formats and the timezone.
func New(cfg *config.Config) (*Calendar, error) {
	loc, err := time.LoadLocation(cfg.Plant.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Plant.Timezone, err)
	}
	weekdays := make(map[time.Weekday]window, len(cfg.Calendar.Weekdays))
	for name, w := range cfg.Calendar.Weekdays {
		day, ok := weekdayByName[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		sh, sm, err := config.ParseClock(w.Start)
		if err != nil {
			return nil, err
		}
		eh, em, err := config.ParseClock(w.End)
		if err != nil {
			return nil, err
		}
		if eh*60+em <= sh*60+sm {
			return nil, fmt.Errorf("weekday %s shift end %s not after start %s", name, w.End, w.Start)
		}
		weekdays[day] = window{sh, sm, eh, em}
	}
	holidays := make(map[string]bool, len(cfg.Calendar.Holidays))
	for _, h := range cfg.Calendar.Holidays {
		holidays[h] = true
	}
	return &Calendar{loc: loc, weekdays: weekdays, holidays: holidays}, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

// IsWorkingDay reports whether the date of t (in the operating timezone) is a
// working day.
func (c *Calendar) IsWorkingDay(t time.Time) bool {
	t = t.In(c.loc)
	if c.holidays[t.Format("2006-01-02")] {
		return false
	}
	_, ok := c.weekdays[t.Weekday()]
	return ok
}

// ShiftWindow returns the shift start and end for t's date. ok is false on
// non-working days.
func (c *Calendar) ShiftWindow(t time.Time) (start, end time.Time, ok bool) {
	t = t.In(c.loc)
	if c.holidays[t.Format("2006-01-02")] {
		return time.Time{}, time.Time{}, false
	}
	w, found := c.weekdays[t.Weekday()]
	if !found {
		return time.Time{}, time.Time{}, false
	}
	y, m, d := t.Date()
	start = time.Date(y, m, d, w.startHour, w.startMin, 0, 0, c.loc)
	end = time.Date(y, m, d, w.endHour, w.endMin, 0, 0, c.loc)
	return start, end, true
}

// NextShiftStart returns today's shift start when from precedes it, otherwise
// the next working day's shift start. The scan is bounded; running past the
// horizon means the calendar has no working days configured.
func (c *Calendar) NextShiftStart(from time.Time) (time.Time, error) {
	from = from.In(c.loc)
	if start, _, ok := c.ShiftWindow(from); ok && from.Before(start) {
		return start, nil
	}
	for i := 1; i <= scanHorizonDays; i++ {
		day := from.AddDate(0, 0, i)
		if start, _, ok := c.ShiftWindow(day); ok {
			return start, nil
		}
	}
	return time.Time{}, ErrNoWorkingDay
}

// NextWorkingInstant returns from unchanged when it falls inside a shift
// window, otherwise the next shift start. Planner cursors seed from this.
func (c *Calendar) NextWorkingInstant(from time.Time) (time.Time, error) {
	from = from.In(c.loc)
	if start, end, ok := c.ShiftWindow(from); ok && !from.Before(start) && from.Before(end) {
		return from, nil
	}
	return c.NextShiftStart(from)
}

// ShiftMinutes returns the shift window length in minutes for t's date, or 0
// on non-working days.
func (c *Calendar) ShiftMinutes(t time.Time) int {
	start, end, ok := c.ShiftWindow(t)
	if !ok {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

// DefaultShiftMinutes returns the length of the first shift window found
// scanning forward from t; used to convert minute durations into
// day-equivalents when no specific date applies.
func (c *Calendar) DefaultShiftMinutes(t time.Time) int {
	for i := 0; i <= scanHorizonDays; i++ {
		if m := c.ShiftMinutes(t.AddDate(0, 0, i)); m > 0 {
			return m
		}
	}
	return 0
}
