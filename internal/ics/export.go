package ics

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/recur"
)

const productID = "-//agenda//calendar export//EN"

// ExportOptions controls calendar-level properties of an export.
type ExportOptions struct {
	// Name becomes X-WR-CALNAME when set.
	Name string
	// Location is used to read naive task times.
	Location *time.Location
	// Now stamps every VEVENT; zero means time.Now.
	Now time.Time
}

func (o ExportOptions) withDefaults() ExportOptions {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now.IsZero() {
		o.Now = time.Now()
	}
	return o
}

func newCalendar(opts ExportOptions) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, "PUBLISH")
	if opts.Name != "" {
		setRaw(cal.Props, "X-WR-CALNAME", textEscaper.Replace(opts.Name))
	}
	if name := opts.Location.String(); name != "Local" {
		setRaw(cal.Props, "X-WR-TIMEZONE", name)
	}
	return cal
}

// setRaw stores an already escaped value. SetText would add VALUE=TEXT,
// which clients do not expect on X- properties.
func setRaw(props ical.Props, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	props.Set(p)
}

// ExportInstances writes one VEVENT per expanded instance. UIDs are the
// instance IDs, so every occurrence of a series is its own event.
func ExportInstances(w io.Writer, instances []model.EventInstance, tags []model.Tag, opts ExportOptions) error {
	opts = opts.withDefaults()
	cal := newCalendar(opts)
	names := tagNames(tags)

	for _, inst := range instances {
		start, err := model.ParseTime(inst.Start, opts.Location)
		if err != nil {
			appLog.Error("export: bad instance start", err, "id", inst.ID)
			continue
		}
		end, err := model.ParseTime(inst.End, opts.Location)
		if err != nil {
			appLog.Error("export: bad instance end", err, "id", inst.ID)
			continue
		}

		ev := newEvent(inst.ID, inst.ExtendedProps, names, opts.Now)
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
		if inst.BackgroundColor != "" {
			setRaw(ev.Props, "COLOR", inst.BackgroundColor)
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}

// ExportSeries writes one VEVENT per raw task, with an RRULE for
// recurring ones, so other calendar apps can expand them on their own.
func ExportSeries(w io.Writer, tasks []model.Task, tags []model.Tag, opts ExportOptions) error {
	opts = opts.withDefaults()
	cal := newCalendar(opts)
	names := tagNames(tags)

	for _, task := range tasks {
		ev, err := seriesEvent(task, names, opts)
		if err != nil {
			appLog.Error("export: task skipped", err, "task", task.ID)
			continue
		}
		cal.Children = append(cal.Children, ev.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}

func seriesEvent(task model.Task, names map[string]string, opts ExportOptions) (*ical.Event, error) {
	start, err := model.ParseTime(task.StartDate, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := model.ParseTime(task.EndDate, opts.Location)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}

	ev := newEvent(task.ID, task, names, opts.Now)
	if opts.Location.String() == "Local" || opts.Location == time.UTC {
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	} else {
		// TZID keeps wall-clock times stable across DST for consumers.
		ev.Props.SetDateTime(ical.PropDateTimeStart, start.In(opts.Location))
		ev.Props.SetDateTime(ical.PropDateTimeEnd, end.In(opts.Location))
	}

	if task.Recurrence.Repeats() {
		rule, err := recur.RuleOption(task.Recurrence, opts.Location)
		if err != nil {
			return nil, err
		}
		if !rule.Until.IsZero() {
			rule.Until = rule.Until.UTC()
		}
		ev.Props.SetRecurrenceRule(&rule)
	}
	return ev, nil
}

func newEvent(uid string, task model.Task, names map[string]string, now time.Time) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, now.UTC())
	ev.Props.SetText(ical.PropSummary, task.Title)
	if task.Description != "" {
		ev.Props.SetText(ical.PropDescription, task.Description)
	}
	if task.Location != "" {
		ev.Props.SetText(ical.PropLocation, task.Location)
	}

	var cats []string
	for _, id := range task.Tags {
		if name, ok := names[id]; ok {
			cats = append(cats, textEscaper.Replace(name))
		}
	}
	if len(cats) > 0 {
		setRaw(ev.Props, ical.PropCategories, strings.Join(cats, ","))
	}
	return ev
}

var textEscaper = strings.NewReplacer(`\`, `\\`, `,`, `\,`, `;`, `\;`, "\n", `\n`)

func tagNames(tags []model.Tag) map[string]string {
	names := make(map[string]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	return names
}
