package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-coupon-engine/internal/domain/coupon"
)

const (
	findProfileSQL = `SELECT level, is_new_customer, birthday FROM user_profiles WHERE user_id = $1`

	saveProfileSQL = `INSERT INTO user_profiles (user_id, level, is_new_customer, birthday, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
			level = EXCLUDED.level,
			is_new_customer = EXCLUDED.is_new_customer,
			birthday = EXCLUDED.birthday,
			updated_at = now()`
)

var _ coupon.ProfileRepository = (*ProfileRepository)(nil)

// ProfileRepository stores user profiles in PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// FindProfile returns the stored profile, or the zero Profile for unknown users.
func (r *ProfileRepository) FindProfile(ctx context.Context, userID string) (coupon.Profile, error) {
	var (
		p        coupon.Profile
		birthday *time.Time
	)
	err := r.pool.QueryRow(ctx, findProfileSQL, userID).Scan(&p.Level, &p.IsNewCustomer, &birthday)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return coupon.Profile{}, nil
	case err != nil:
		return coupon.Profile{}, errors.Wrapf(err, "find profile of %s", userID)
	}
	if birthday != nil {
		b := birthday.UTC()
		p.Birthday = &b
	}
	return p, nil
}

// SaveProfile upserts a profile.
func (r *ProfileRepository) SaveProfile(ctx context.Context, userID string, p coupon.Profile) error {
	if _, err := r.pool.Exec(ctx, saveProfileSQL, userID, p.Level, p.IsNewCustomer, p.Birthday); err != nil {
		return errors.Wrapf(err, "save profile of %s", userID)
	}
	return nil
}
