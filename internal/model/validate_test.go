package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimePolicy(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	naive, err := ParseTime("2024-01-01T10:00", loc)
	if err != nil {
		t.Fatal(err)
	}
	if naive.Hour() != 10 || naive.Location() != loc {
		t.Fatalf("naive timestamp should be wall-clock in loc, got %v", naive)
	}

	zoned, err := ParseTime("2024-01-01T13:00:00.000Z", loc)
	if err != nil {
		t.Fatal(err)
	}
	if !zoned.Equal(naive) {
		t.Fatalf("expected %v to equal %v", zoned, naive)
	}
	if zoned.Location() != loc {
		t.Fatalf("zoned timestamp should be converted into loc, got %v", zoned.Location())
	}

	if _, err := ParseTime("not-a-date", loc); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestParseUntilEndOfDay(t *testing.T) {
	u, err := ParseUntil("2024-01-05", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2024, 1, 5, 23, 59, 59, 0, time.UTC)
	if !u.Equal(want) {
		t.Fatalf("got %v want %v", u, want)
	}
	if _, err := ParseUntil("2024-13-45", time.UTC); err == nil {
		t.Fatal("expected error for malformed until")
	}
}

func TestTaskNormalize(t *testing.T) {
	task := Task{
		Title:      "  Standup ",
		Recurrence: &Recurrence{Freq: FreqNone},
		Subtasks:   []Subtask{{ID: "a", Text: "  "}, {ID: "b", Text: "notes"}},
	}
	task.Normalize()
	if task.Title != "Standup" {
		t.Fatalf("title not trimmed: %q", task.Title)
	}
	if task.Recurrence != nil {
		t.Fatal("freq=none should drop recurrence")
	}
	if len(task.Subtasks) != 1 || task.Subtasks[0].ID != "b" {
		t.Fatalf("unexpected subtasks: %+v", task.Subtasks)
	}
	if task.Tags == nil {
		t.Fatal("tags should be non-nil after normalize")
	}

	daily := Task{Recurrence: &Recurrence{Freq: FreqDaily, ByDay: []string{"MO"}}}
	daily.Normalize()
	if daily.Recurrence.ByDay != nil {
		t.Fatal("byday should be cleared for non-weekly recurrence")
	}
}

func TestTaskValidate(t *testing.T) {
	ok := Task{Title: "x", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00"}
	if err := ok.Validate(time.UTC); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]Task{
		"missing title": {StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00"},
		"end before":    {Title: "x", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T09:00"},
		"bad start":     {Title: "x", StartDate: "yesterday", EndDate: "2024-01-01T09:00"},
		"bad freq":      {Title: "x", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Recurrence: &Recurrence{Freq: "yearly"}},
		"bad until":     {Title: "x", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Recurrence: &Recurrence{Freq: FreqDaily, Until: "soon"}},
		"bad weekday":   {Title: "x", StartDate: "2024-01-01T10:00", EndDate: "2024-01-01T11:00", Recurrence: &Recurrence{Freq: FreqWeekly, ByDay: []string{"XX"}}},
	}
	for name, task := range cases {
		if err := task.Validate(time.UTC); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestWeekdayIndex(t *testing.T) {
	if i, ok := WeekdayIndex(" su "); !ok || i != 6 {
		t.Fatalf("expected SU at 6, got %d %v", i, ok)
	}
	if i, ok := WeekdayIndex("mo"); !ok || i != 0 {
		t.Fatalf("expected MO at 0, got %d %v", i, ok)
	}
	if _, ok := WeekdayIndex("XX"); ok {
		t.Fatalf("unexpected match for XX")
	}
}

func TestPomodoroSettingsValidate(t *testing.T) {
	def := DefaultPomodoroSettings()
	if err := def.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	for name, p := range map[string]PomodoroSettings{
		"zero focus":   {Pomodoro: 0, ShortBreak: 5, LongBreak: 15},
		"negative":     {Pomodoro: 25, ShortBreak: -5, LongBreak: 15},
		"over one day": {Pomodoro: 25, ShortBreak: 5, LongBreak: MaxPomodoroMinutes + 1},
	} {
		if err := p.Validate(); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestPomodoroSessionNormalize(t *testing.T) {
	p := PomodoroSession{Task: "   "}
	p.Normalize()
	if p.Task != DefaultSessionTask {
		t.Fatalf("expected default label, got %q", p.Task)
	}
}
