package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"agenda/internal/model"
)

const taskColumns = `id, title, description, location, start_date, end_date, tags, recurrence, subtasks, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t          model.Task
		tagsJSON   string
		recurrence sql.NullString
		subtasks   string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Location, &t.StartDate, &t.EndDate,
		&tagsJSON, &recurrence, &subtasks, &t.CreatedAt); err != nil {
		return t, err
	}

	t.Tags = []string{}
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return t, fmt.Errorf("decode tags for task %s: %w", t.ID, err)
	}
	if recurrence.Valid && recurrence.String != "" {
		var r model.Recurrence
		if err := json.Unmarshal([]byte(recurrence.String), &r); err != nil {
			return t, fmt.Errorf("decode recurrence for task %s: %w", t.ID, err)
		}
		t.Recurrence = &r
	}
	if subtasks != "" && subtasks != "[]" {
		if err := json.Unmarshal([]byte(subtasks), &t.Subtasks); err != nil {
			return t, fmt.Errorf("decode subtasks for task %s: %w", t.ID, err)
		}
	}
	return t, nil
}

// encodeTask returns the JSON columns of t.
func encodeTask(t *model.Task) (tags string, recurrence sql.NullString, subtasks string, err error) {
	if t.Tags == nil {
		t.Tags = []string{}
	}
	b, err := json.Marshal(t.Tags)
	if err != nil {
		return "", recurrence, "", err
	}
	tags = string(b)

	if t.Recurrence != nil {
		rb, err := json.Marshal(t.Recurrence)
		if err != nil {
			return "", recurrence, "", err
		}
		recurrence = sql.NullString{String: string(rb), Valid: true}
	}

	for i := range t.Subtasks {
		if t.Subtasks[i].ID == "" {
			t.Subtasks[i].ID = uuid.NewString()
		}
	}
	subtasks = "[]"
	if len(t.Subtasks) > 0 {
		sb, err := json.Marshal(t.Subtasks)
		if err != nil {
			return "", recurrence, "", err
		}
		subtasks = string(sb)
	}
	return tags, recurrence, subtasks, nil
}

// CreateTask inserts t for userID, assigning its ID and CreatedAt.
func (s *Storage) CreateTask(ctx context.Context, userID string, t *model.Task) error {
	t.ID = uuid.NewString()
	t.CreatedAt = s.now().UTC()

	tags, recurrence, subtasks, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, location, start_date, end_date, tags, recurrence, subtasks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, userID, t.Title, t.Description, t.Location, t.StartDate, t.EndDate, tags, recurrence, subtasks, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	s.hub.publish(ctx, userID)
	return nil
}

// GetTask returns one task owned by userID.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

// ListTasks returns every task of userID, oldest first.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]model.Task, error) {
	return listTasks(ctx, s.db, userID)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listTasks(ctx context.Context, q querier, userID string) ([]model.Task, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask replaces the stored fields of t. ID and CreatedAt are kept.
func (s *Storage) UpdateTask(ctx context.Context, userID string, t *model.Task) error {
	tags, recurrence, subtasks, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, location = ?, start_date = ?, end_date = ?, tags = ?, recurrence = ?, subtasks = ?
		 WHERE user_id = ? AND id = ?`,
		t.Title, t.Description, t.Location, t.StartDate, t.EndDate, tags, recurrence, subtasks, userID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}

	stored, err := s.GetTask(ctx, userID, t.ID)
	if err == nil {
		t.CreatedAt = stored.CreatedAt
	}
	s.hub.publish(ctx, userID)
	return nil
}

// DeleteTask removes a task. Deleting the series is the only option; there
// are no per-occurrence records.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}
	s.hub.publish(ctx, userID)
	return nil
}

// ImportTasks inserts tasks in one transaction and publishes once.
func (s *Storage) ImportTasks(ctx context.Context, userID string, tasks []model.Task) ([]model.Task, error) {
	now := s.now().UTC()
	out := make([]model.Task, 0, len(tasks))

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tasks {
			t.ID = uuid.NewString()
			t.CreatedAt = now
			tags, recurrence, subtasks, err := encodeTask(&t)
			if err != nil {
				return fmt.Errorf("encode task: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, user_id, title, description, location, start_date, end_date, tags, recurrence, subtasks, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, userID, t.Title, t.Description, t.Location, t.StartDate, t.EndDate, tags, recurrence, subtasks, t.CreatedAt,
			); err != nil {
				return fmt.Errorf("insert task: %w", err)
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) > 0 {
		s.hub.publish(ctx, userID)
	}
	return out, nil
}
