package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

// taskLayout is the wall-clock form tasks are stored in.
const taskLayout = "2006-01-02T15:04"

// maxCountExpansion bounds how far a COUNT rule is walked to find its
// last occurrence.
const maxCountExpansion = 10000

// ErrUnsupportedRule marks RRULEs that cannot be expressed as a task
// recurrence (yearly, intervals, positional weekdays and so on).
var ErrUnsupportedRule = errors.New("unsupported recurrence rule")

// ImportedTask is a task built from one VEVENT, plus the CATEGORIES it
// carried so the caller can map them onto existing tags.
type ImportedTask struct {
	UID        string
	Task       model.Task
	Categories []string
}

// ParseResult is the outcome of parsing one ICS payload.
type ParseResult struct {
	Tasks []ImportedTask
	// Skipped counts VEVENTs that could not be converted.
	Skipped int
}

// Parse converts every VEVENT in body into a raw task in loc.
//
//   - Timed events keep their wall-clock time in loc; TZID and UTC forms
//     are converted.
//   - All-day events span 00:00 to 23:59 of their (inclusive) last day.
//   - RRULE is mapped onto daily/weekly/monthly with UNTIL and BYDAY.
//     COUNT is turned into the date of the last occurrence.
//   - Overrides (RECURRENCE-ID) are dropped, as are EXDATEs.
//
// A VEVENT that cannot be converted is logged and skipped.
func Parse(body []byte, loc *time.Location) (ParseResult, error) {
	if len(body) == 0 {
		return ParseResult{}, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return ParseResult{}, fmt.Errorf("parse calendar: %w", err)
	}

	var res ParseResult
	for _, ve := range cal.Events() {
		if ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")) != nil {
			appLog.Debug("ics override ignored", "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			continue
		}
		it, perr := parseVEvent(ve, loc)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "uid", propValue(ve, ical.ComponentPropertyUniqueId))
			res.Skipped++
			continue
		}
		res.Tasks = append(res.Tasks, it)
	}

	appLog.Info("ics parse completed", "tasks", len(res.Tasks), "skipped", res.Skipped)
	return res, nil
}

func propValue(ve *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ve.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (ImportedTask, error) {
	out := ImportedTask{UID: propValue(ve, ical.ComponentPropertyUniqueId)}

	title := strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary))
	if title == "" {
		title = "(untitled)"
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return out, errors.New("missing DTSTART")
	}
	allDay := isDateValue(dtStart)

	var start, end time.Time
	if allDay {
		s, err := parseICSTime(dtStart.Value, loc)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		start = s
		// DTEND of an all-day event is exclusive.
		end = start.AddDate(0, 0, 1)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if e, err := parseICSTime(p.Value, loc); err == nil && e.After(start) {
				end = e
			}
		}
		end = end.Add(-time.Minute)
	} else {
		s, err := eventTime(ve.GetStartAt, dtStart, loc)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		start = s
		end = start.Add(time.Hour)
		if p := ve.GetProperty(ical.ComponentPropertyDtEnd); p != nil {
			if e, err := eventTime(ve.GetEndAt, p, loc); err == nil && !e.Before(start) {
				end = e
			}
		}
	}

	out.Task = model.Task{
		Title:       title,
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
		StartDate:   start.In(loc).Format(taskLayout),
		EndDate:     end.In(loc).Format(taskLayout),
		Tags:        []string{},
	}

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		rec, err := recurrenceFromRRule(raw, start, loc)
		if err != nil {
			return out, err
		}
		out.Task.Recurrence = rec
	}

	for _, p := range ve.GetProperties(ical.ComponentProperty("CATEGORIES")) {
		for _, c := range strings.Split(p.Value, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out.Categories = append(out.Categories, c)
			}
		}
	}
	return out, nil
}

func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// eventTime prefers the library's TZID-aware getter and falls back to a
// plain parse in loc.
func eventTime(get func() (time.Time, error), p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	if t, err := get(); err == nil && !t.IsZero() {
		return t.In(loc), nil
	}
	return parseICSTime(p.Value, loc)
}

// parseICSTime parses the basic DATE / DATE-TIME / UTC forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t.In(loc), err
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

var freqByRule = map[rrule.Frequency]model.Freq{
	rrule.DAILY:   model.FreqDaily,
	rrule.WEEKLY:  model.FreqWeekly,
	rrule.MONTHLY: model.FreqMonthly,
}

func recurrenceFromRRule(raw string, start time.Time, loc *time.Location) (*model.Recurrence, error) {
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("RRULE %q: %w", raw, err)
	}
	freq, ok := freqByRule[opt.Freq]
	if !ok {
		return nil, fmt.Errorf("%w: frequency %v", ErrUnsupportedRule, opt.Freq)
	}
	if opt.Interval > 1 {
		return nil, fmt.Errorf("%w: INTERVAL=%d", ErrUnsupportedRule, opt.Interval)
	}
	if len(opt.Bymonthday) > 0 || len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 ||
		len(opt.Byweekno) > 0 || len(opt.Bymonth) > 0 || len(opt.Byhour) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRule, raw)
	}

	rec := &model.Recurrence{Freq: freq}
	if freq == model.FreqWeekly {
		for i := range opt.Byweekday {
			wd := opt.Byweekday[i]
			if wd.N() != 0 {
				return nil, fmt.Errorf("%w: positional weekday in %s", ErrUnsupportedRule, raw)
			}
			rec.ByDay = append(rec.ByDay, model.WeekdayCodes[wd.Day()])
		}
	}

	switch {
	case !opt.Until.IsZero() && dateOnlyUntil(raw):
		rec.Until = opt.Until.UTC().Format(model.DateLayout)
	case !opt.Until.IsZero():
		rec.Until = opt.Until.In(loc).Format(model.DateLayout)
	case opt.Count > 0:
		last, err := lastOccurrence(opt, start)
		if err != nil {
			return nil, err
		}
		rec.Until = last.In(loc).Format(model.DateLayout)
	}
	return rec, nil
}

// dateOnlyUntil reports whether the UNTIL part of raw is a DATE value,
// which rrule-go reads as midnight UTC.
func dateOnlyUntil(raw string) bool {
	for _, part := range strings.Split(strings.ToUpper(raw), ";") {
		if v, ok := strings.CutPrefix(part, "UNTIL="); ok {
			return !strings.Contains(v, "T")
		}
	}
	return false
}

func lastOccurrence(opt *rrule.ROption, start time.Time) (time.Time, error) {
	if opt.Count > maxCountExpansion {
		return time.Time{}, fmt.Errorf("%w: COUNT=%d", ErrUnsupportedRule, opt.Count)
	}
	o := *opt
	o.Dtstart = start
	r, err := rrule.NewRRule(o)
	if err != nil {
		return time.Time{}, err
	}
	all := r.All()
	if len(all) == 0 {
		return start, nil
	}
	return all[len(all)-1], nil
}
