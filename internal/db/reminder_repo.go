package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"habitly/internal/types"
)

var _ types.ReminderStore = (*ReminderRepository)(nil)

// ReminderRepository provides data access for the reminders table.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a ReminderRepository.
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `id, user_id, habit_id, channel, cron, time, timezone, enabled, note,
	last_sent_at, created_at, updated_at`

func scanReminder(row pgx.Row) (*types.Reminder, error) {
	var (
		r                          types.Reminder
		cron, hhmm, timezone, note *string
	)
	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.HabitID,
		&r.Channel,
		&cron,
		&hhmm,
		&timezone,
		&r.Enabled,
		&note,
		&r.LastSentAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Channel = types.ParseChannel(string(r.Channel))
	r.Cron = deref(cron)
	r.Time = deref(hhmm)
	r.Timezone = deref(timezone)
	r.Note = deref(note)
	return &r, nil
}

// FindEnabled returns up to limit enabled reminders, least recently sent
// first so a capped batch does not starve the same rows every tick.
func (r *ReminderRepository) FindEnabled(ctx context.Context, limit int) ([]*types.Reminder, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reminderColumns+`
		 FROM reminders
		 WHERE enabled = TRUE
		 ORDER BY last_sent_at ASC NULLS FIRST, id ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query enabled reminders", err)
	}
	defer rows.Close()

	var out []*types.Reminder
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan reminder", err)
		}
		out = append(out, rem)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate reminders", err)
	}
	return out, nil
}

// MarkSent stamps last_sent_at with the database clock. GREATEST keeps the
// value monotonic when the scheduler and a worker both mark the same send.
func (r *ReminderRepository) MarkSent(ctx context.Context, reminderID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reminders
		 SET last_sent_at = GREATEST(last_sent_at, NOW()),
		     updated_at = NOW()
		 WHERE id = $1`,
		reminderID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark reminder sent", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
