package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"agenda/internal/model"
)

// ErrConflict is returned when a unique field is already taken.
var ErrConflict = errors.New("record already exists")

const userColumns = `id, email, name, is_admin, created_at`

func (s *Storage) CreateUser(ctx context.Context, u *model.User) error {
	u.ID = uuid.NewString()
	u.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.IsAdmin, u.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("email %s: %w", u.Email, ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}

// ListUsers returns all users
func (s *Storage) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser changes name and admin flag. Email is immutable.
func (s *Storage) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET name = ?, is_admin = ? WHERE id = ?`, u.Name, u.IsAdmin, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}
	stored, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return err
	}
	*u = stored
	return nil
}

// DeleteUser removes the user and everything they own.
func (s *Storage) DeleteUser(ctx context.Context, id string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if err := affected(res); err != nil {
			return err
		}
		for _, table := range []string{"tasks", "tags", "reminders", "pomodoro_settings", "pomodoro_sessions"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, id); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.hub.publish(ctx, id)
	return nil
}
