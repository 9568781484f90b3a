package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/salonstudio/internal/models"
)

const dayLayout = "2006-01-02"

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, email, COALESCE(display_name, ''), COALESCE(salon_name, ''), plan, plan_expires_at, daily_usage, last_usage_date, telegram_chat_id, created_at, updated_at`

func scanProfile(row interface{ Scan(...any) error }) (*models.Profile, error) {
	var p models.Profile
	var plan string
	var expires, lastUsage sql.NullTime
	var chatID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Email, &p.DisplayName, &p.SalonName, &plan, &expires, &p.DailyUsage, &lastUsage, &chatID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Plan = models.PlanTier(plan)
	if expires.Valid {
		p.PlanExpiresAt = &expires.Time
	}
	if lastUsage.Valid {
		p.LastUsageDate = lastUsage.Time.UTC().Format(dayLayout)
	}
	if chatID.Valid {
		p.TelegramChatID = &chatID.Int64
	}
	return &p, nil
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	return p, nil
}

// Ensure creates the profile on first use. The bool reports whether a row was inserted.
func (r *ProfileRepository) Ensure(ctx context.Context, id, email string) (*models.Profile, bool, error) {
	const query = `
INSERT INTO profiles (id, email, plan, daily_usage, last_usage_date)
VALUES (?, ?, 'free', 0, NULL)
ON DUPLICATE KEY UPDATE id = id`
	res, err := r.db.ExecContext(ctx, query, id, email)
	if err != nil {
		return nil, false, fmt.Errorf("upsert profile: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("profile rows affected: %w", err)
	}
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if p == nil {
		return nil, false, fmt.Errorf("profile %s vanished after upsert", id)
	}
	return p, affected == 1, nil
}

func (r *ProfileRepository) UpdateDetails(ctx context.Context, id, displayName, salonName string, telegramChatID *int64) error {
	const query = `
UPDATE profiles SET display_name = NULLIF(?, ''), salon_name = NULLIF(?, ''), telegram_chat_id = ?, updated_at = NOW()
WHERE id = ?`
	var chatID sql.NullInt64
	if telegramChatID != nil {
		chatID = sql.NullInt64{Int64: *telegramChatID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, displayName, salonName, chatID, id); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (r *ProfileRepository) SetPlan(ctx context.Context, id string, plan models.PlanTier, expiresAt *time.Time) error {
	const query = `UPDATE profiles SET plan = ?, plan_expires_at = ?, updated_at = NOW() WHERE id = ?`
	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: expiresAt.UTC(), Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, plan, expires, id); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	return nil
}

// SetUsage writes the counter and its date unconditionally.
func (r *ProfileRepository) SetUsage(ctx context.Context, id string, dailyUsage int, day string) error {
	const query = `UPDATE profiles SET daily_usage = ?, last_usage_date = ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, dailyUsage, day, id); err != nil {
		return fmt.Errorf("set usage: %w", err)
	}
	return nil
}

// ConsumeUsage increments the counter only while it is below limit, resetting it
// on a new day. It is a single statement, so concurrent callers cannot overshoot.
func (r *ProfileRepository) ConsumeUsage(ctx context.Context, id string, day string, limit int) (bool, error) {
	const query = `
UPDATE profiles
SET daily_usage = CASE WHEN last_usage_date = ? THEN daily_usage + 1 ELSE 1 END,
    last_usage_date = ?,
    updated_at = NOW()
WHERE id = ? AND ? > 0 AND (last_usage_date IS NULL OR last_usage_date <> ? OR daily_usage < ?)`
	res, err := r.db.ExecContext(ctx, query, day, day, id, limit, day, limit)
	if err != nil {
		return false, fmt.Errorf("consume usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("usage rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *ProfileRepository) ReleaseUsage(ctx context.Context, id string, day string) error {
	const query = `
UPDATE profiles SET daily_usage = daily_usage - 1, updated_at = NOW()
WHERE id = ? AND last_usage_date = ? AND daily_usage > 0`
	if _, err := r.db.ExecContext(ctx, query, id, day); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}

func (r *ProfileRepository) ListTelegramChatIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT telegram_chat_id FROM profiles WHERE telegram_chat_id IS NOT NULL`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram chat ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram chat id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
