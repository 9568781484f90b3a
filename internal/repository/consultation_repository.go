package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/salonstudio/internal/models"
)

// ConsultationRepository stores immutable AI results; rows are only inserted,
// listed or deleted.
type ConsultationRepository struct {
	db *sql.DB
}

func NewConsultationRepository(db *sql.DB) *ConsultationRepository {
	return &ConsultationRepository{db: db}
}

const consultationColumns = `id, account_id, customer_id, kind, COALESCE(treatment_type, ''), image_urls, result, created_at`

func scanConsultation(row interface{ Scan(...any) error }) (*models.Consultation, error) {
	var c models.Consultation
	var kind, treatment string
	var images, result []byte
	if err := row.Scan(&c.ID, &c.AccountID, &c.CustomerID, &kind, &treatment, &images, &result, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Kind = models.ConsultationKind(kind)
	c.TreatmentType = models.TreatmentType(treatment)
	if err := json.Unmarshal(images, &c.ImageURLs); err != nil {
		return nil, fmt.Errorf("decode image urls: %w", err)
	}
	c.Result = json.RawMessage(result)
	return &c, nil
}

func (r *ConsultationRepository) Create(ctx context.Context, c *models.Consultation) error {
	const query = `
INSERT INTO consultations (id, account_id, customer_id, kind, treatment_type, image_urls, result)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	images, err := json.Marshal(c.ImageURLs)
	if err != nil {
		return fmt.Errorf("encode image urls: %w", err)
	}
	c.ID = uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, c.ID, c.AccountID, c.CustomerID, c.Kind, c.TreatmentType, images, []byte(c.Result)); err != nil {
		return fmt.Errorf("insert consultation: %w", err)
	}
	return nil
}

func (r *ConsultationRepository) ListByCustomer(ctx context.Context, accountID, customerID string) ([]models.Consultation, error) {
	const query = `SELECT ` + consultationColumns + ` FROM consultations WHERE account_id = ? AND customer_id = ? ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, accountID, customerID)
	if err != nil {
		return nil, fmt.Errorf("list consultations: %w", err)
	}
	defer rows.Close()

	out := []models.Consultation{}
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consultation: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ConsultationRepository) Get(ctx context.Context, accountID, id string) (*models.Consultation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+consultationColumns+` FROM consultations WHERE id = ? AND account_id = ?`, id, accountID)
	c, err := scanConsultation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get consultation: %w", err)
	}
	return c, nil
}

func (r *ConsultationRepository) Delete(ctx context.Context, accountID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM consultations WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete consultation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consultation rows affected: %w", err)
	}
	return affected > 0, nil
}
