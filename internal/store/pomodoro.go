package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"agenda/internal/model"
)

// GetPomodoroSettings returns the saved timer lengths of userID, or the
// defaults if none were saved.
func (s *Storage) GetPomodoroSettings(ctx context.Context, userID string) (model.PomodoroSettings, error) {
	var p model.PomodoroSettings
	err := s.db.QueryRowContext(ctx,
		`SELECT pomodoro, short_break, long_break FROM pomodoro_settings WHERE user_id = ?`, userID,
	).Scan(&p.Pomodoro, &p.ShortBreak, &p.LongBreak)
	if errors.Is(err, sql.ErrNoRows) {
		return model.DefaultPomodoroSettings(), nil
	}
	if err != nil {
		return p, fmt.Errorf("get pomodoro settings: %w", err)
	}
	return p, nil
}

// SavePomodoroSettings replaces the timer lengths of userID.
func (s *Storage) SavePomodoroSettings(ctx context.Context, userID string, p model.PomodoroSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pomodoro_settings (user_id, pomodoro, short_break, long_break, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     pomodoro = excluded.pomodoro,
		     short_break = excluded.short_break,
		     long_break = excluded.long_break,
		     updated_at = excluded.updated_at`,
		userID, p.Pomodoro, p.ShortBreak, p.LongBreak, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save pomodoro settings: %w", err)
	}
	return nil
}

// AddPomodoroSession records a finished focus period. A zero CompletedAt
// means now.
func (s *Storage) AddPomodoroSession(ctx context.Context, userID string, p *model.PomodoroSession) error {
	p.ID = uuid.NewString()
	if p.CompletedAt.IsZero() {
		p.CompletedAt = s.now()
	}
	p.CompletedAt = p.CompletedAt.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pomodoro_sessions (id, user_id, task, completed_at) VALUES (?, ?, ?, ?)`,
		p.ID, userID, p.Task, p.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pomodoro session: %w", err)
	}
	return nil
}

// ListPomodoroSessions returns the sessions of userID completed at or
// after since, oldest first.
func (s *Storage) ListPomodoroSessions(ctx context.Context, userID string, since time.Time) ([]model.PomodoroSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, completed_at FROM pomodoro_sessions
		 WHERE user_id = ? AND completed_at >= ?
		 ORDER BY completed_at, id`, userID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.PomodoroSession{}
	for rows.Next() {
		var p model.PomodoroSession
		if err := rows.Scan(&p.ID, &p.Task, &p.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
