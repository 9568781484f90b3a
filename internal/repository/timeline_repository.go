package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/salonstudio/internal/models"
)

type TimelineRepository struct {
	db *sql.DB
}

func NewTimelineRepository(db *sql.DB) *TimelineRepository {
	return &TimelineRepository{db: db}
}

func (r *TimelineRepository) Create(ctx context.Context, t *models.Timeline) error {
	const query = `
INSERT INTO timelines (id, account_id, customer_id, treatment_type, source_image_url, result)
VALUES (?, ?, ?, ?, ?, ?)`
	t.ID = uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, t.ID, t.AccountID, t.CustomerID, t.TreatmentType, t.SourceImageURL, []byte(t.Result)); err != nil {
		return fmt.Errorf("insert timeline: %w", err)
	}
	return nil
}

func (r *TimelineRepository) ListByCustomer(ctx context.Context, accountID, customerID string) ([]models.Timeline, error) {
	const query = `
SELECT id, account_id, customer_id, treatment_type, source_image_url, result, created_at
FROM timelines WHERE account_id = ? AND customer_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, accountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list timelines: %w", err)
	}
	defer rows.Close()

	out := []models.Timeline{}
	for rows.Next() {
		var t models.Timeline
		var treatment string
		var result []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &t.CustomerID, &treatment, &t.SourceImageURL, &result, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan timeline: %w", err)
		}
		t.TreatmentType = models.TreatmentType(treatment)
		t.Result = json.RawMessage(result)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *TimelineRepository) Delete(ctx context.Context, accountID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM timelines WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete timeline: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("timeline rows affected: %w", err)
	}
	return affected > 0, nil
}
