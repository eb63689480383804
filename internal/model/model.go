package model

import "time"

// Freq is the recurrence frequency of a task.
type Freq string

const (
	FreqNone    Freq = "none"
	FreqDaily   Freq = "daily"
	FreqWeekly  Freq = "weekly"
	FreqMonthly Freq = "monthly"
)

// Recurrence describes how a task repeats. Until is an inclusive date
// (YYYY-MM-DD) or empty; ByDay holds weekday codes (MO..SU) and only
// applies to weekly recurrence.
type Recurrence struct {
	Freq  Freq     `json:"freq" yaml:"freq"`
	Until string   `json:"until,omitempty" yaml:"until,omitempty"`
	ByDay []string `json:"byday,omitempty" yaml:"byday,omitempty"`
}

// Repeats reports whether r produces more than one occurrence.
func (r *Recurrence) Repeats() bool {
	return r != nil && r.Freq != "" && r.Freq != FreqNone
}

// Subtask is a checklist entry attached to a task.
type Subtask struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// Task is the raw, persisted calendar record. For a recurring task
// StartDate/EndDate describe the first occurrence.
type Task struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location,omitempty"`
	StartDate   string      `json:"startDate"`
	EndDate     string      `json:"endDate"`
	Tags        []string    `json:"tags"`
	Recurrence  *Recurrence `json:"recurrence,omitempty"`
	Subtasks    []Subtask   `json:"subtasks,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// Tag is a user-defined category with a display colour.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// EventInstance is a derived, renderable occurrence. It is never persisted.
// ExtendedProps always carries the originating raw task, so edits made from
// any occurrence apply to the whole series.
type EventInstance struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Start           string `json:"start"`
	End             string `json:"end"`
	BackgroundColor string `json:"backgroundColor"`
	BorderColor     string `json:"borderColor"`
	ExtendedProps   Task   `json:"extendedProps"`
}

// Reminder is a one-shot notification. A completed reminder keeps its
// record with CompletedAt set.
type Reminder struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Date        string     `json:"date"`
	NotifiedAt  *time.Time `json:"notifiedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// User is an account managed from the admin API.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"isAdmin"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is the complete working set of one user at a point in time.
// Consumers must treat the slices as read-only; they may be shared between
// subscribers.
type Snapshot struct {
	UserID  string `json:"userId"`
	Version uint64 `json:"version"`
	Tasks   []Task `json:"tasks"`
	Tags    []Tag  `json:"tags"`
}

// PomodoroSettings are a user's timer lengths in minutes.
type PomodoroSettings struct {
	Pomodoro   int `json:"pomodoro"`
	ShortBreak int `json:"shortBreak"`
	LongBreak  int `json:"longBreak"`
}

// DefaultPomodoroSettings is returned for users who never saved settings.
func DefaultPomodoroSettings() PomodoroSettings {
	return PomodoroSettings{Pomodoro: 25, ShortBreak: 5, LongBreak: 15}
}

// PomodoroSession records one finished focus period.
type PomodoroSession struct {
	ID          string    `json:"id"`
	Task        string    `json:"task"`
	CompletedAt time.Time `json:"completedAt"`
}
