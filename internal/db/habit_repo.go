package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"habitly/internal/types"
)

var _ types.HabitStore = (*HabitRepository)(nil)

// HabitRepository provides read access to habits.
type HabitRepository struct {
	db DBTX
}

// NewHabitRepository creates a HabitRepository.
func NewHabitRepository(db DBTX) *HabitRepository {
	return &HabitRepository{db: db}
}

// FindByID returns the habit or (nil, nil) when it does not exist.
func (r *HabitRepository) FindByID(ctx context.Context, habitID string) (*types.Habit, error) {
	var h types.Habit
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, title FROM habits WHERE id = $1`,
		habitID,
	).Scan(&h.ID, &h.UserID, &h.Title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve habit", err)
	}
	return &h, nil
}
