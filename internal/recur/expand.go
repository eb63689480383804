package recur

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

const (
	defaultMaxOccurrencesPerTask = 5000

	// DefaultColor is used when a task has no tag or its first tag is unknown.
	DefaultColor = "#4F46E5"
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location is the single timezone in which every timestamp is
	// interpreted. Zoned inputs are converted into it, naive inputs are
	// read as wall-clock time in it. If nil, time.Local is used.
	Location *time.Location

	// RangeStart / RangeEnd define the inclusive window for occurrence starts.
	RangeStart time.Time
	RangeEnd   time.Time

	// DefaultColor overrides the package DefaultColor when non-empty.
	DefaultColor string

	// MaxOccurrencesPerTask is a safety cap for very long windows. If zero,
	// defaultMaxOccurrencesPerTask is used.
	MaxOccurrencesPerTask int
}

// ExpandResult wraps the materialized instances plus bookkeeping about
// tasks that were dropped or cut short.
type ExpandResult struct {
	Instances []model.EventInstance
	// Truncated records task IDs that hit MaxOccurrencesPerTask.
	Truncated []string
	// Skipped records task IDs whose recurrence could not be evaluated.
	Skipped []string
}

// Expand turns raw tasks into the flat list of event instances visible in
// the configured window.
//
//   - Non-recurring tasks pass through verbatim, one instance each.
//   - Recurring tasks are evaluated with rrule-go from their first
//     occurrence; every occurrence keeps the original duration.
//   - A task whose recurrence cannot be evaluated contributes nothing and
//     is logged; it never fails the whole expansion.
//
// The only error is an inverted window. Output order is task input order,
// then ascending occurrence start, so identical inputs give identical output.
func Expand(tasks []model.Task, tags []model.Tag, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerTask <= 0 {
		cfg.MaxOccurrencesPerTask = defaultMaxOccurrencesPerTask
	}
	if cfg.DefaultColor == "" {
		cfg.DefaultColor = DefaultColor
	}

	colors := tagColors(tags)
	instances := make([]model.EventInstance, 0, len(tasks))

	for _, task := range tasks {
		color := resolveColor(task, colors, cfg.DefaultColor)

		if !task.Recurrence.Repeats() {
			instances = append(instances, makeInstance(task, task.ID, task.StartDate, task.EndDate, color))
			continue
		}

		occ, hitCap, err := expandRecurringTask(task, color, cfg)
		if err != nil {
			result.Skipped = append(result.Skipped, task.ID)
			appLog.Error("expand: skipping task with unusable recurrence", err, "task_id", task.ID)
			continue
		}
		if hitCap {
			result.Truncated = append(result.Truncated, task.ID)
			appLog.Error("expand: truncated occurrences for task due to cap",
				errors.New("max occurrences reached"),
				"task_id", task.ID,
				"cap", cfg.MaxOccurrencesPerTask,
			)
		}
		instances = append(instances, occ...)
	}

	result.Instances = instances
	return result, nil
}

// expandRecurringTask materializes one recurring task inside the window.
func expandRecurringTask(task model.Task, color string, cfg ExpandConfig) ([]model.EventInstance, bool, error) {
	start, err := model.ParseTime(task.StartDate, cfg.Location)
	if err != nil {
		return nil, false, fmt.Errorf("start: %w", err)
	}
	end, err := model.ParseTime(task.EndDate, cfg.Location)
	if err != nil {
		return nil, false, fmt.Errorf("end: %w", err)
	}
	// Duration is fixed for the whole series.
	dur := end.Sub(start)

	r, err := buildRule(task.Recurrence, start, cfg.Location)
	if err != nil {
		return nil, false, err
	}

	rangeStart := cfg.RangeStart.In(cfg.Location)
	rangeEnd := cfg.RangeEnd.In(cfg.Location)

	occTimes := r.Between(rangeStart, rangeEnd, true)

	hitCap := false
	if len(occTimes) > cfg.MaxOccurrencesPerTask {
		occTimes = occTimes[:cfg.MaxOccurrencesPerTask]
		hitCap = true
	}

	out := make([]model.EventInstance, 0, len(occTimes))
	for _, occStart := range occTimes {
		occEnd := occStart.Add(dur)
		startStr := FormatTime(occStart)
		out = append(out, makeInstance(task, task.ID+"-"+startStr, startStr, FormatTime(occEnd), color))
	}
	return out, hitCap, nil
}

// buildRule constructs the rrule for a recurrence anchored at start.
func buildRule(rec *model.Recurrence, start time.Time, loc *time.Location) (*rrule.RRule, error) {
	opt, err := RuleOption(rec, loc)
	if err != nil {
		return nil, err
	}
	opt.Dtstart = start
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}
	return r, nil
}

// RuleOption maps a recurrence onto rrule options without a DTSTART.
// ByDay is honoured for weekly rules only; Until is end of day in loc.
func RuleOption(rec *model.Recurrence, loc *time.Location) (rrule.ROption, error) {
	var opt rrule.ROption

	switch rec.Freq {
	case model.FreqDaily:
		opt.Freq = rrule.DAILY
	case model.FreqWeekly:
		opt.Freq = rrule.WEEKLY
		days, err := Weekdays(rec.ByDay)
		if err != nil {
			return opt, err
		}
		opt.Byweekday = days
	case model.FreqMonthly:
		opt.Freq = rrule.MONTHLY
	default:
		return opt, fmt.Errorf("unsupported freq %q", rec.Freq)
	}

	if strings.TrimSpace(rec.Until) != "" {
		until, err := model.ParseUntil(rec.Until, loc)
		if err != nil {
			return opt, fmt.Errorf("until: %w", err)
		}
		opt.Until = until
	}
	return opt, nil
}

// ruleWeekdays follows the order of model.WeekdayCodes.
var ruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

// Weekdays converts weekday codes (MO..SU) to rrule weekdays.
func Weekdays(codes []string) ([]rrule.Weekday, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	out := make([]rrule.Weekday, 0, len(codes))
	for _, c := range codes {
		i, ok := model.WeekdayIndex(c)
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", c)
		}
		out = append(out, ruleWeekdays[i])
	}
	return out, nil
}

// tagColors indexes tag colours by id; the first tag with a given id wins.
func tagColors(tags []model.Tag) map[string]string {
	m := make(map[string]string, len(tags))
	for _, t := range tags {
		if _, seen := m[t.ID]; seen {
			continue
		}
		m[t.ID] = t.Color
	}
	return m
}

func resolveColor(task model.Task, colors map[string]string, fallback string) string {
	if len(task.Tags) == 0 {
		return fallback
	}
	if c := colors[task.Tags[0]]; c != "" {
		return c
	}
	return fallback
}

func makeInstance(task model.Task, id, start, end, color string) model.EventInstance {
	return model.EventInstance{
		ID:              id,
		Title:           task.Title,
		Start:           start,
		End:             end,
		BackgroundColor: color,
		BorderColor:     color,
		ExtendedProps:   task,
	}
}

// FormatTime renders an occurrence timestamp. It is also the suffix of
// derived instance IDs, so it must stay stable for a given instant and zone.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

// EventDays returns the set of YYYY-MM-DD days in loc on which at least one
// instance starts. Instances with unparseable starts are ignored.
func EventDays(instances []model.EventInstance, loc *time.Location) map[string]bool {
	if loc == nil {
		loc = time.Local
	}
	days := make(map[string]bool)
	for _, in := range instances {
		t, err := model.ParseTime(in.Start, loc)
		if err != nil {
			continue
		}
		days[t.Format(model.DateLayout)] = true
	}
	return days
}
