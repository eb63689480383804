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

// DueReminder is a reminder together with the user it belongs to.
type DueReminder struct {
	UserID   string
	Reminder model.Reminder
}

const reminderColumns = `id, title, date, notified_at, completed_at, created_at`

func scanReminder(row rowScanner) (model.Reminder, error) {
	var r model.Reminder
	err := row.Scan(&r.ID, &r.Title, &r.Date, &r.NotifiedAt, &r.CompletedAt, &r.CreatedAt)
	return r, err
}

// CreateReminder stores r. dueAt is r.Date resolved to an instant by the
// caller, used for ordering and due queries.
func (s *Storage) CreateReminder(ctx context.Context, userID string, r *model.Reminder, dueAt time.Time) error {
	r.ID = uuid.NewString()
	r.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (id, user_id, title, date, due_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, userID, r.Title, r.Date, dueAt.UTC(), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reminder: %w", err)
	}
	return nil
}

func (s *Storage) GetReminder(ctx context.Context, userID, id string) (model.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? AND id = ?`, userID, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reminder{}, ErrNotFound
	}
	return r, err
}

// UpdateReminder changes title and date. Moving the date re-arms the
// notification.
func (s *Storage) UpdateReminder(ctx context.Context, userID string, r *model.Reminder, dueAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders
		 SET title = ?, date = ?,
		     notified_at = CASE WHEN due_at = ? THEN notified_at ELSE NULL END,
		     due_at = ?
		 WHERE user_id = ? AND id = ?`,
		r.Title, r.Date, dueAt.UTC(), dueAt.UTC(), userID, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update reminder: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}
	stored, err := s.GetReminder(ctx, userID, r.ID)
	if err != nil {
		return err
	}
	*r = stored
	return nil
}

// ListReminders returns pending reminders, latest date first.
func (s *Storage) ListReminders(ctx context.Context, userID string) ([]model.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? AND completed_at IS NULL ORDER BY due_at DESC, id`, userID)
}

// ListCompletedReminders returns completed reminders, most recently
// completed first.
func (s *Storage) ListCompletedReminders(ctx context.Context, userID string) ([]model.Reminder, error) {
	return s.queryReminders(ctx,
		`SELECT `+reminderColumns+` FROM reminders WHERE user_id = ? AND completed_at IS NOT NULL ORDER BY completed_at DESC, id`, userID)
}

func (s *Storage) queryReminders(ctx context.Context, query string, args ...any) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CompleteReminder marks a pending reminder as done.
func (s *Storage) CompleteReminder(ctx context.Context, userID, id string) (model.Reminder, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET completed_at = ? WHERE user_id = ? AND id = ? AND completed_at IS NULL`,
		s.now().UTC(), userID, id,
	)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("complete reminder: %w", err)
	}
	if err := affected(res); err != nil {
		return model.Reminder{}, err
	}
	return s.GetReminder(ctx, userID, id)
}

func (s *Storage) DeleteReminder(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return affected(res)
}

// ListDueReminders returns pending, not yet notified reminders due at or
// before now, across all users.
func (s *Storage) ListDueReminders(ctx context.Context, now time.Time) ([]DueReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, `+reminderColumns+` FROM reminders
		 WHERE completed_at IS NULL AND notified_at IS NULL AND due_at <= ?
		 ORDER BY due_at, id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DueReminder
	for rows.Next() {
		var d DueReminder
		r := &d.Reminder
		if err := rows.Scan(&d.UserID, &r.ID, &r.Title, &r.Date, &r.NotifiedAt, &r.CompletedAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Storage) MarkReminderNotified(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reminders SET notified_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark reminder notified: %w", err)
	}
	return affected(res)
}
