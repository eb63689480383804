package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"agenda/internal/ics"
	appLog "agenda/internal/log"
	"agenda/internal/model"
	"agenda/internal/recur"
)

// maxImportBody caps uploaded calendars.
const maxImportBody = 10 << 20

// keepAliveInterval paces comment frames on idle event streams.
const keepAliveInterval = 25 * time.Second

// eventsResponse is the JSON response shape for the events endpoints.
type eventsResponse struct {
	Events     []model.EventInstance `json:"events"`
	Truncated  []string              `json:"truncated,omitempty"`
	Skipped    []string              `json:"skipped,omitempty"`
	RangeStart string                `json:"rangeStart"`
	RangeEnd   string                `json:"rangeEnd"`
	Timezone   string                `json:"timezone"`
	Version    uint64                `json:"version"`
}

// parseRange reads ?start=&end= in the configured zone. A bare end date
// covers that whole day. Without parameters the current month is used.
func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
	end := start.AddDate(0, 1, 0).Add(-time.Second)

	if v := q.Get("start"); v != "" {
		t, err := model.ParseTime(v, s.loc)
		if err != nil {
			return start, end, fmt.Errorf("start: %w", err)
		}
		start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := model.ParseUntil(v, s.loc)
		if err != nil {
			return start, end, fmt.Errorf("end: %w", err)
		}
		end = t
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: end is before start", model.ErrInvalid)
	}
	if end.Sub(start) > time.Duration(s.cfg.MaxRangeDays)*24*time.Hour {
		return start, end, fmt.Errorf("%w: range wider than %d days", model.ErrInvalid, s.cfg.MaxRangeDays)
	}
	return start, end, nil
}

func (s *Server) expandForRequest(w http.ResponseWriter, r *http.Request) (eventsResponse, model.Snapshot, bool) {
	userID := r.PathValue("uid")
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return eventsResponse{}, model.Snapshot{}, false
	}
	f, err := s.feed(r, userID)
	if err != nil {
		writeStoreError(w, err, "calendar")
		return eventsResponse{}, model.Snapshot{}, false
	}
	snap := f.Snapshot()
	res, err := f.Events(start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return eventsResponse{}, model.Snapshot{}, false
	}
	return s.eventsBody(res, start, end, snap.Version), snap, true
}

func (s *Server) eventsBody(res recur.ExpandResult, start, end time.Time, version uint64) eventsResponse {
	events := res.Instances
	if events == nil {
		events = []model.EventInstance{}
	}
	return eventsResponse{
		Events:     events,
		Truncated:  res.Truncated,
		Skipped:    res.Skipped,
		RangeStart: recur.FormatTime(start),
		RangeEnd:   recur.FormatTime(end),
		Timezone:   s.loc.String(),
		Version:    version,
	}
}

// handleEvents returns the expanded instances for a view range.
//
// GET /api/users/{uid}/events?start=2024-03-01&end=2024-03-31
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, _, ok := s.expandForRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// handleEventsStream pushes the expanded range as server-sent events:
// once on connect and again after every change to the user's data.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("uid")
	start, end, err := s.parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	f, err := s.cal.Feed(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "calendar")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		// Take the signal before reading so no change is missed.
		changed := f.Changed()
		snap := f.Snapshot()
		res, err := f.Events(start, end)
		if err != nil {
			appLog.Error("event stream expand failed", err, "user", userID)
			return
		}
		data, err := json.Marshal(s.eventsBody(res, start, end, snap.Version))
		if err != nil {
			appLog.Error("event stream encode failed", err, "user", userID)
			return
		}
		if _, err := fmt.Fprintf(w, "event: events\nid: %d\ndata: %s\n\n", snap.Version, data); err != nil {
			return
		}
		flusher.Flush()

	wait:
		for {
			select {
			case <-r.Context().Done():
				return
			case <-f.Done():
				return
			case <-changed:
				break wait
			case <-ticker.C:
				if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

type daysResponse struct {
	Year int      `json:"year"`
	Days []string `json:"days"`
}

// handleEventDays lists the days of a year that have at least one event.
//
// GET /api/users/{uid}/events/days?year=2024
func (s *Server) handleEventDays(w http.ResponseWriter, r *http.Request) {
	year := time.Now().In(s.loc).Year()
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 9999 {
			writeError(w, http.StatusBadRequest, "year must be a number between 1 and 9999")
			return
		}
		year = n
	}

	f, err := s.feed(r, r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "calendar")
		return
	}
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, s.loc)
	end := time.Date(year, time.December, 31, 23, 59, 59, 0, s.loc)
	res, err := f.Events(start, end)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prefix := fmt.Sprintf("%04d-", year)
	days := []string{}
	for day := range recur.EventDays(res.Instances, s.loc) {
		// Non-recurring tasks are not window-filtered.
		if strings.HasPrefix(day, prefix) {
			days = append(days, day)
		}
	}
	sort.Strings(days)
	writeJSON(w, http.StatusOK, daysResponse{Year: year, Days: days})
}

// handleCalendarICS exports the expanded range as an iCalendar file.
func (s *Server) handleCalendarICS(w http.ResponseWriter, r *http.Request) {
	body, snap, ok := s.expandForRequest(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	opts := ics.ExportOptions{Name: "Agenda", Location: s.loc}
	if err := ics.ExportInstances(&buf, body.Events, snap.Tags, opts); err != nil {
		appLog.Error("ics export failed", err, "user", snap.UserID)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeCalendar(w, buf.Bytes(), "agenda.ics")
}

// handleSeriesICS exports raw tasks with RRULEs for other calendar apps.
func (s *Server) handleSeriesICS(w http.ResponseWriter, r *http.Request) {
	f, err := s.feed(r, r.PathValue("uid"))
	if err != nil {
		writeStoreError(w, err, "calendar")
		return
	}
	snap := f.Snapshot()
	var buf bytes.Buffer
	opts := ics.ExportOptions{Name: "Agenda", Location: s.loc}
	if err := ics.ExportSeries(&buf, snap.Tasks, snap.Tags, opts); err != nil {
		appLog.Error("ics series export failed", err, "user", snap.UserID)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	writeCalendar(w, buf.Bytes(), "agenda-series.ics")
}

func writeCalendar(w http.ResponseWriter, body []byte, filename string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type importResponse struct {
	Imported int          `json:"imported"`
	Skipped  int          `json:"skipped"`
	Tasks    []model.Task `json:"tasks"`
}

// handleImport turns an uploaded (or fetched, with ?url=) calendar into
// raw tasks. CATEGORIES matching a tag name become that tag.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("uid")

	var body []byte
	if src := r.URL.Query().Get("url"); src != "" {
		res, err := s.fetcher.Fetch(r.Context(), src)
		if err != nil {
			writeError(w, http.StatusBadGateway, "fetch calendar: "+err.Error())
			return
		}
		body = res.Body
	} else {
		b, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "calendar too large")
				return
			}
			writeError(w, http.StatusBadRequest, "read body: "+err.Error())
			return
		}
		body = b
	}

	parsed, err := ics.Parse(body, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tags, err := s.store.ListTags(r.Context(), userID)
	if err != nil {
		writeStoreError(w, err, "tags")
		return
	}
	tagByName := make(map[string]string, len(tags))
	for _, t := range tags {
		tagByName[strings.ToLower(t.Name)] = t.ID
	}

	skipped := parsed.Skipped
	tasks := make([]model.Task, 0, len(parsed.Tasks))
	for _, it := range parsed.Tasks {
		task := it.Task
		for _, c := range it.Categories {
			if id, ok := tagByName[strings.ToLower(c)]; ok {
				task.Tags = append(task.Tags, id)
			}
		}
		task.Normalize()
		if err := task.Validate(s.loc); err != nil {
			appLog.Error("import: task rejected", err, "uid", it.UID)
			skipped++
			continue
		}
		tasks = append(tasks, task)
	}

	stored, err := s.store.ImportTasks(r.Context(), userID, tasks)
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}
	writeJSON(w, http.StatusOK, importResponse{Imported: len(stored), Skipped: skipped, Tasks: stored})
}
