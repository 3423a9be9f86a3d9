package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"habitly/internal/types"
)

var _ types.UserStore = (*UserRepository)(nil)

// UserRepository provides access to reminder recipients.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a UserRepository.
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns the user or (nil, nil) when it does not exist.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (*types.User, error) {
	var (
		u     types.User
		phone *string
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, email, phone, COALESCE(push_tokens, '{}') FROM users WHERE id = $1`,
		userID,
	).Scan(&u.ID, &u.Email, &phone, &u.PushTokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	u.Phone = deref(phone)
	return &u, nil
}

// AddPushToken registers a device token. Registering a known token is a
// no-op.
func (r *UserRepository) AddPushToken(ctx context.Context, userID, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users
		 SET push_tokens = CASE
		     WHEN $2::text = ANY(COALESCE(push_tokens, '{}')) THEN push_tokens
		     ELSE array_append(COALESCE(push_tokens, '{}'), $2::text)
		 END
		 WHERE id = $1`,
		userID, token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to add push token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}

// RemovePushToken unregisters a device token.
func (r *UserRepository) RemovePushToken(ctx context.Context, userID, token string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET push_tokens = array_remove(push_tokens, $2::text) WHERE id = $1`,
		userID, token,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to remove push token", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
