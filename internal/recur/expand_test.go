package recur

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	appLog "agenda/internal/log"
	"agenda/internal/model"
)

func init() {
	appLog.SetOutput(io.Discard)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func endOfDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, 0, time.UTC)
}

func window(start, end time.Time) ExpandConfig {
	return ExpandConfig{Location: time.UTC, RangeStart: start, RangeEnd: end}
}

func mustExpand(t *testing.T, tasks []model.Task, tags []model.Tag, cfg ExpandConfig) ExpandResult {
	t.Helper()
	res, err := Expand(tasks, tags, cfg)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	return res
}

func dailyTask(id string) model.Task {
	return model.Task{
		ID:         id,
		Title:      "Daily " + id,
		StartDate:  "2024-01-01T10:00",
		EndDate:    "2024-01-01T11:00",
		Tags:       []string{},
		Recurrence: &model.Recurrence{Freq: model.FreqDaily},
	}
}

func TestExpandDeterministic(t *testing.T) {
	tasks := []model.Task{
		dailyTask("a"),
		{ID: "b", Title: "once", StartDate: "2024-03-03T09:00", EndDate: "2024-03-03T10:00", Tags: []string{"t1"}},
		{ID: "c", Title: "weekly", StartDate: "2024-01-01T08:00", EndDate: "2024-01-01T08:30",
			Recurrence: &model.Recurrence{Freq: model.FreqWeekly, ByDay: []string{"MO", "FR"}}},
	}
	tags := []model.Tag{{ID: "t1", Name: "work", Color: "#ff0000"}}
	cfg := window(day(2024, 3, 1), endOfDay(2024, 3, 31))

	first := mustExpand(t, tasks, tags, cfg)
	second := mustExpand(t, tasks, tags, cfg)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expansion is not deterministic")
	}
}

func TestExpandNonRecurringPassthrough(t *testing.T) {
	task := model.Task{ID: "x", Title: "dentist", StartDate: "2024-05-10T14:00:00.000Z", EndDate: "2024-05-10T15:30:00.000Z"}
	for _, rec := range []*model.Recurrence{nil, {Freq: model.FreqNone}} {
		task.Recurrence = rec
		// The window does not contain the task: passthrough ignores it.
		res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), day(2024, 1, 2)))
		if len(res.Instances) != 1 {
			t.Fatalf("expected 1 instance, got %d", len(res.Instances))
		}
		in := res.Instances[0]
		if in.ID != "x" || in.Start != task.StartDate || in.End != task.EndDate {
			t.Fatalf("unexpected instance: %+v", in)
		}
		if !reflect.DeepEqual(in.ExtendedProps, task) {
			t.Fatal("extendedProps should be the raw task")
		}
	}
}

func TestExpandDurationPreserved(t *testing.T) {
	res := mustExpand(t, []model.Task{dailyTask("d")}, nil, window(day(2024, 1, 1), endOfDay(2024, 2, 29)))
	if len(res.Instances) != 60 {
		t.Fatalf("expected 60 occurrences, got %d", len(res.Instances))
	}
	for _, in := range res.Instances {
		s, err := time.Parse(time.RFC3339, in.Start)
		if err != nil {
			t.Fatal(err)
		}
		e, err := time.Parse(time.RFC3339, in.End)
		if err != nil {
			t.Fatal(err)
		}
		if e.Sub(s) != time.Hour {
			t.Fatalf("occurrence %s has duration %v", in.ID, e.Sub(s))
		}
	}
}

func TestExpandWindowFiltering(t *testing.T) {
	res := mustExpand(t, []model.Task{dailyTask("d")}, nil, window(day(2024, 3, 1), endOfDay(2024, 3, 31)))
	if len(res.Instances) != 31 {
		t.Fatalf("expected 31 occurrences in March, got %d", len(res.Instances))
	}
	for _, in := range res.Instances {
		s, _ := time.Parse(time.RFC3339, in.Start)
		if s.Year() != 2024 || s.Month() != time.March {
			t.Fatalf("occurrence outside March: %s", in.Start)
		}
	}
}

func TestExpandWindowInclusiveBounds(t *testing.T) {
	// Occurrences exactly on both window edges are included.
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 10, 0, 0, 0, time.UTC)
	res := mustExpand(t, []model.Task{dailyTask("d")}, nil, window(start, end))
	if len(res.Instances) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(res.Instances))
	}
}

func TestExpandWeeklyByDay(t *testing.T) {
	task := model.Task{
		ID: "w", Title: "gym",
		// 2024-01-01 is a Monday.
		StartDate:  "2024-01-01T18:00",
		EndDate:    "2024-01-01T19:00",
		Recurrence: &model.Recurrence{Freq: model.FreqWeekly, ByDay: []string{"MO", "WE"}},
	}
	res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 14)))
	if len(res.Instances) != 4 {
		t.Fatalf("expected 4 occurrences, got %d", len(res.Instances))
	}
	for _, in := range res.Instances {
		s, _ := time.Parse(time.RFC3339, in.Start)
		if wd := s.Weekday(); wd != time.Monday && wd != time.Wednesday {
			t.Fatalf("occurrence on %v", wd)
		}
	}
}

func TestExpandWeeklyWithoutByDayUsesAnchorWeekday(t *testing.T) {
	task := model.Task{
		ID: "w", Title: "review",
		StartDate:  "2024-01-03T09:00", // Wednesday
		EndDate:    "2024-01-03T09:30",
		Recurrence: &model.Recurrence{Freq: model.FreqWeekly},
	}
	res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 31)))
	if len(res.Instances) != 5 {
		t.Fatalf("expected 5 Wednesdays, got %d", len(res.Instances))
	}
}

func TestExpandByDayIgnoredForDaily(t *testing.T) {
	task := dailyTask("d")
	task.Recurrence.ByDay = []string{"MO"}
	res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 7)))
	if len(res.Instances) != 7 {
		t.Fatalf("byday must not restrict daily recurrence, got %d", len(res.Instances))
	}
}

func TestExpandUntilBound(t *testing.T) {
	task := dailyTask("u")
	task.Recurrence.Until = "2024-01-05"
	res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 10)))
	if len(res.Instances) != 5 {
		t.Fatalf("expected Jan 1-5, got %d occurrences", len(res.Instances))
	}
	last, _ := time.Parse(time.RFC3339, res.Instances[len(res.Instances)-1].Start)
	if last.Day() != 5 {
		t.Fatalf("last occurrence should be Jan 5, got %v", last)
	}
}

func TestExpandOutsideSeries(t *testing.T) {
	future := dailyTask("f")
	future.StartDate = "2025-01-01T10:00"
	future.EndDate = "2025-01-01T11:00"

	ended := dailyTask("e")
	ended.Recurrence.Until = "2023-12-31"

	res := mustExpand(t, []model.Task{future, ended}, nil, window(day(2024, 6, 1), endOfDay(2024, 6, 30)))
	if len(res.Instances) != 0 {
		t.Fatalf("expected no occurrences, got %d", len(res.Instances))
	}
	if len(res.Skipped) != 0 {
		t.Fatalf("out-of-window series are not errors: %v", res.Skipped)
	}
}

func TestExpandMonthlySkipsMissingDays(t *testing.T) {
	task := model.Task{
		ID: "m", Title: "rent",
		StartDate:  "2024-01-31T09:00",
		EndDate:    "2024-01-31T09:15",
		Recurrence: &model.Recurrence{Freq: model.FreqMonthly},
	}
	res := mustExpand(t, []model.Task{task}, nil, window(day(2024, 1, 1), endOfDay(2024, 5, 31)))

	var got []string
	for _, in := range res.Instances {
		got = append(got, in.Start[:10])
	}
	want := []string{"2024-01-31", "2024-03-31", "2024-05-31"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("monthly day-31 should skip short months: got %v want %v", got, want)
	}
}

func TestExpandInstanceIDs(t *testing.T) {
	res := mustExpand(t, []model.Task{dailyTask("abc")}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 3)))
	seen := map[string]bool{}
	for _, in := range res.Instances {
		if !strings.HasPrefix(in.ID, "abc-") || in.ID != "abc-"+in.Start {
			t.Fatalf("unexpected instance id %q", in.ID)
		}
		if seen[in.ID] {
			t.Fatalf("duplicate id %q", in.ID)
		}
		seen[in.ID] = true
		if in.ExtendedProps.ID != "abc" {
			t.Fatal("occurrence must carry the raw task")
		}
	}
	if res.Instances[0].ID != "abc-2024-01-01T10:00:00Z" {
		t.Fatalf("unexpected first id %q", res.Instances[0].ID)
	}
}

func TestExpandTagColors(t *testing.T) {
	tags := []model.Tag{
		{ID: "t1", Name: "work", Color: "#111111"},
		{ID: "t1", Name: "dup", Color: "#999999"},
		{ID: "t2", Name: "blank"},
	}
	tasks := []model.Task{
		{ID: "a", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Tags: []string{"t1", "t2"}},
		{ID: "b", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Tags: []string{"missing-id"}},
		{ID: "c", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00"},
		{ID: "d", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Tags: []string{"t2"}},
	}
	res := mustExpand(t, tasks, tags, window(day(2024, 1, 1), day(2024, 1, 2)))
	want := map[string]string{"a": "#111111", "b": DefaultColor, "c": DefaultColor, "d": DefaultColor}
	for _, in := range res.Instances {
		if in.BackgroundColor != want[in.ID] || in.BorderColor != want[in.ID] {
			t.Fatalf("task %s: got %s/%s want %s", in.ID, in.BackgroundColor, in.BorderColor, want[in.ID])
		}
	}
}

func TestExpandUnresolvedTagWithNoTags(t *testing.T) {
	task := model.Task{ID: "a", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Tags: []string{"missing-id"}}
	res := mustExpand(t, []model.Task{task}, []model.Tag{}, window(day(2024, 1, 1), day(2024, 1, 2)))
	if res.Instances[0].BackgroundColor != DefaultColor {
		t.Fatalf("expected fallback colour, got %s", res.Instances[0].BackgroundColor)
	}

	cfg := window(day(2024, 1, 1), day(2024, 1, 2))
	cfg.DefaultColor = "#3B82F6"
	res = mustExpand(t, []model.Task{task}, nil, cfg)
	if res.Instances[0].BackgroundColor != "#3B82F6" {
		t.Fatalf("configured default colour ignored: %s", res.Instances[0].BackgroundColor)
	}
}

func TestExpandMalformedRecurrenceIsolation(t *testing.T) {
	var tasks []model.Task
	for i := 0; i < 9; i++ {
		task := dailyTask(fmt.Sprintf("ok-%d", i))
		task.Recurrence.Until = "2024-01-03"
		tasks = append(tasks, task)
	}
	bad := dailyTask("bad")
	bad.Recurrence.Until = "03/01/2024???"
	tasks = append(tasks[:4], append([]model.Task{bad}, tasks[4:]...)...)

	res := mustExpand(t, tasks, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 31)))
	perTask := map[string]int{}
	for _, in := range res.Instances {
		perTask[in.ExtendedProps.ID]++
	}
	if len(perTask) != 9 {
		t.Fatalf("expected instances for 9 tasks, got %d: %v", len(perTask), perTask)
	}
	if perTask["bad"] != 0 {
		t.Fatal("malformed task should contribute nothing")
	}
	if !reflect.DeepEqual(res.Skipped, []string{"bad"}) {
		t.Fatalf("unexpected skipped list: %v", res.Skipped)
	}
}

func TestExpandOtherMalformedTasks(t *testing.T) {
	badStart := dailyTask("s")
	badStart.StartDate = "garbage"
	badFreq := dailyTask("f")
	badFreq.Recurrence.Freq = "yearly"
	badDay := dailyTask("w")
	badDay.Recurrence = &model.Recurrence{Freq: model.FreqWeekly, ByDay: []string{"XX"}}

	res := mustExpand(t, []model.Task{badStart, badFreq, badDay}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 31)))
	if len(res.Instances) != 0 || len(res.Skipped) != 3 {
		t.Fatalf("expected 3 skipped tasks and no instances, got %d/%v", len(res.Instances), res.Skipped)
	}
}

func TestExpandInvertedRange(t *testing.T) {
	if _, err := Expand(nil, nil, window(day(2024, 2, 1), day(2024, 1, 1))); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestExpandCap(t *testing.T) {
	cfg := window(day(2024, 1, 1), endOfDay(2024, 12, 31))
	cfg.MaxOccurrencesPerTask = 10
	res := mustExpand(t, []model.Task{dailyTask("d")}, nil, cfg)
	if len(res.Instances) != 10 {
		t.Fatalf("expected cap of 10, got %d", len(res.Instances))
	}
	if !reflect.DeepEqual(res.Truncated, []string{"d"}) {
		t.Fatalf("unexpected truncated list: %v", res.Truncated)
	}
}

func TestExpandTimezonePolicy(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// Stored as UTC instants; 15:00Z is 10:00 EST.
	task := model.Task{
		ID: "tz", Title: "call",
		StartDate:  "2024-03-08T15:00:00.000Z",
		EndDate:    "2024-03-08T16:00:00.000Z",
		Recurrence: &model.Recurrence{Freq: model.FreqDaily, Until: "2024-03-12"},
	}
	cfg := ExpandConfig{
		Location:   loc,
		RangeStart: time.Date(2024, 3, 1, 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(2024, 3, 31, 23, 59, 59, 0, loc),
	}
	res := mustExpand(t, []model.Task{task}, nil, cfg)
	if len(res.Instances) != 5 {
		t.Fatalf("expected Mar 8-12, got %d", len(res.Instances))
	}
	// Wall-clock time holds across the DST change on Mar 10.
	for _, in := range res.Instances {
		s, err := time.Parse(time.RFC3339, in.Start)
		if err != nil {
			t.Fatal(err)
		}
		if s.In(loc).Hour() != 10 {
			t.Fatalf("occurrence %s not at 10:00 local", in.Start)
		}
	}
}

func TestEventDays(t *testing.T) {
	task := model.Task{
		ID: "w", StartDate: "2024-01-01T18:00", EndDate: "2024-01-01T19:00",
		Recurrence: &model.Recurrence{Freq: model.FreqWeekly, ByDay: []string{"MO", "WE"}},
	}
	once := model.Task{ID: "o", StartDate: "2024-01-20T08:00", EndDate: "2024-01-20T09:00"}
	res := mustExpand(t, []model.Task{task, once}, nil, window(day(2024, 1, 1), endOfDay(2024, 1, 7)))

	days := EventDays(res.Instances, time.UTC)
	for _, d := range []string{"2024-01-01", "2024-01-03", "2024-01-20"} {
		if !days[d] {
			t.Fatalf("missing day %s in %v", d, days)
		}
	}
	if len(days) != 3 {
		t.Fatalf("unexpected days: %v", days)
	}
}

func TestWeekdaysFollowModelCodes(t *testing.T) {
	days, err := Weekdays(model.WeekdayCodes)
	if err != nil {
		t.Fatalf("weekdays: %v", err)
	}
	for i, wd := range days {
		if wd.Day() != i || wd.String() != model.WeekdayCodes[i] {
			t.Fatalf("code %s mapped to %s", model.WeekdayCodes[i], wd.String())
		}
	}
	if _, err := Weekdays([]string{" fr ", "XX"}); err == nil {
		t.Fatalf("expected error for unknown code")
	}
}

func TestRuleOption(t *testing.T) {
	rec := &model.Recurrence{Freq: model.FreqWeekly, Until: "2024-01-31", ByDay: []string{"mo", "WE"}}
	opt, err := RuleOption(rec, time.UTC)
	if err != nil {
		t.Fatalf("rule option: %v", err)
	}
	if !opt.Dtstart.IsZero() || !opt.Until.Equal(endOfDay(2024, time.January, 31)) || len(opt.Byweekday) != 2 {
		t.Fatalf("unexpected option: %+v", opt)
	}

	opt, err = RuleOption(&model.Recurrence{Freq: model.FreqDaily, ByDay: []string{"XX"}}, time.UTC)
	if err != nil || opt.Byweekday != nil {
		t.Fatalf("byday must be ignored for daily rules: %+v (%v)", opt, err)
	}
	if _, err := RuleOption(&model.Recurrence{Freq: "yearly"}, time.UTC); err == nil {
		t.Fatalf("expected error for yearly")
	}
}
