package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"agenda/internal/model"
)

func (s *Storage) CreateTag(ctx context.Context, userID string, t *model.Tag) error {
	t.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (id, user_id, name, color, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, userID, t.Name, t.Color, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert tag: %w", err)
	}
	s.hub.publish(ctx, userID)
	return nil
}

func (s *Storage) ListTags(ctx context.Context, userID string) ([]model.Tag, error) {
	return listTags(ctx, s.db, userID)
}

func listTags(ctx context.Context, q querier, userID string) ([]model.Tag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, name, color FROM tags WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

func (s *Storage) UpdateTag(ctx context.Context, userID string, t *model.Tag) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tags SET name = ?, color = ? WHERE user_id = ? AND id = ?`,
		t.Name, t.Color, userID, t.ID,
	)
	if err != nil {
		return fmt.Errorf("update tag: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}
	s.hub.publish(ctx, userID)
	return nil
}

// DeleteTag removes a tag. Tasks still referencing it fall back to the
// default colour on the next expansion.
func (s *Storage) DeleteTag(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	if err := affected(res); err != nil {
		return err
	}
	s.hub.publish(ctx, userID)
	return nil
}
