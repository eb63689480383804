package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid input")

// Weekday codes accepted in Recurrence.ByDay, Monday first.
var WeekdayCodes = []string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

const (
	DateLayout = "2006-01-02"
)

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTime parses an ISO-8601 timestamp into loc.
//
// Timestamps carrying a zone (Z or ±hh:mm) are converted into loc; naive
// timestamps are read as wall-clock time in loc. A bare date is midnight.
func ParseTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrInvalid)
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrInvalid, s)
}

// ParseUntil parses an inclusive until bound. A bare date is extended to the
// last second of that day in loc; a full timestamp is used as-is.
func ParseUntil(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if d, err := time.ParseInLocation(DateLayout, s, loc); err == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, loc), nil
	}
	return ParseTime(s, loc)
}

// Normalize trims the title, drops a "none" recurrence and removes empty
// subtasks, mirroring what the task form submits.
func (t *Task) Normalize() {
	t.Title = strings.TrimSpace(t.Title)
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if t.Recurrence != nil && !t.Recurrence.Repeats() {
		t.Recurrence = nil
	}
	if t.Recurrence != nil && t.Recurrence.Freq != FreqWeekly {
		t.Recurrence.ByDay = nil
	}
	kept := t.Subtasks[:0]
	for _, st := range t.Subtasks {
		if strings.TrimSpace(st.Text) == "" {
			continue
		}
		kept = append(kept, st)
	}
	if len(kept) == 0 {
		kept = nil
	}
	t.Subtasks = kept
}

// Validate checks the write-path invariants of a task in loc.
func (t *Task) Validate(loc *time.Location) error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	start, err := ParseTime(t.StartDate, loc)
	if err != nil {
		return fmt.Errorf("startDate: %w", err)
	}
	end, err := ParseTime(t.EndDate, loc)
	if err != nil {
		return fmt.Errorf("endDate: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("%w: endDate must not be before startDate", ErrInvalid)
	}
	if t.Recurrence != nil {
		if err := t.Recurrence.Validate(loc); err != nil {
			return fmt.Errorf("recurrence: %w", err)
		}
	}
	return nil
}

// Validate checks frequency, until and weekday codes.
func (r *Recurrence) Validate(loc *time.Location) error {
	switch r.Freq {
	case FreqNone, FreqDaily, FreqWeekly, FreqMonthly:
	default:
		return fmt.Errorf("%w: unknown freq %q", ErrInvalid, r.Freq)
	}
	if r.Until != "" {
		if _, err := ParseUntil(r.Until, loc); err != nil {
			return fmt.Errorf("until: %w", err)
		}
	}
	for _, d := range r.ByDay {
		if !IsWeekdayCode(d) {
			return fmt.Errorf("%w: unknown weekday %q", ErrInvalid, d)
		}
	}
	return nil
}

// WeekdayIndex returns the position of code in WeekdayCodes (Monday is 0).
// Matching ignores case and surrounding space.
func WeekdayIndex(code string) (int, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range WeekdayCodes {
		if c == code {
			return i, true
		}
	}
	return -1, false
}

// IsWeekdayCode reports whether s is one of WeekdayCodes (case-insensitive).
func IsWeekdayCode(s string) bool {
	_, ok := WeekdayIndex(s)
	return ok
}

// Validate checks a tag before it is written.
func (t *Tag) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: tag name is required", ErrInvalid)
	}
	return nil
}

// Validate checks a reminder before it is written.
func (r *Reminder) Validate(loc *time.Location) error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if _, err := ParseTime(r.Date, loc); err != nil {
		return fmt.Errorf("date: %w", err)
	}
	return nil
}

// Validate checks a user before it is written.
func (u *User) Validate() error {
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email is required", ErrInvalid)
	}
	return nil
}

// MaxPomodoroMinutes bounds every pomodoro timer length.
const MaxPomodoroMinutes = 24 * 60

// Validate checks that every length is between 1 and MaxPomodoroMinutes.
func (p *PomodoroSettings) Validate() error {
	for _, f := range []struct {
		name string
		v    int
	}{{"pomodoro", p.Pomodoro}, {"shortBreak", p.ShortBreak}, {"longBreak", p.LongBreak}} {
		if f.v < 1 || f.v > MaxPomodoroMinutes {
			return fmt.Errorf("%w: %s must be between 1 and %d minutes", ErrInvalid, f.name, MaxPomodoroMinutes)
		}
	}
	return nil
}

// DefaultSessionTask labels sessions recorded without a task.
const DefaultSessionTask = "General focus"

// Normalize trims the task label and fills in DefaultSessionTask.
func (p *PomodoroSession) Normalize() {
	p.Task = strings.TrimSpace(p.Task)
	if p.Task == "" {
		p.Task = DefaultSessionTask
	}
}
