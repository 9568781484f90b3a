package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/digkill/salonstudio/internal/models"
)

type CustomerRepository struct {
	db *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `id, account_id, name, COALESCE(phone, ''), COALESCE(email, ''), COALESCE(notes, ''), created_at, updated_at`

func scanCustomer(row interface{ Scan(...any) error }) (*models.Customer, error) {
	var c models.Customer
	if err := row.Scan(&c.ID, &c.AccountID, &c.Name, &c.Phone, &c.Email, &c.Notes, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CustomerRepository) List(ctx context.Context, accountID string) ([]models.Customer, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE account_id = ? ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	customers := []models.Customer{}
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer list: %w", err)
		}
		customers = append(customers, *c)
	}
	return customers, rows.Err()
}

// Get returns nil when the customer is absent or owned by another account.
func (r *CustomerRepository) Get(ctx context.Context, accountID, id string) (*models.Customer, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = ? AND account_id = ?`, id, accountID)
	c, err := scanCustomer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) Create(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	const query = `
INSERT INTO customers (id, account_id, name, phone, email, notes)
VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, ''))`
	c.ID = uuid.NewString()
	if _, err := r.db.ExecContext(ctx, query, c.ID, c.AccountID, c.Name, c.Phone, c.Email, c.Notes); err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	return r.Get(ctx, c.AccountID, c.ID)
}

func (r *CustomerRepository) Update(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	const query = `
UPDATE customers SET name = ?, phone = NULLIF(?, ''), email = NULLIF(?, ''), notes = NULLIF(?, ''), updated_at = NOW()
WHERE id = ? AND account_id = ?`
	if _, err := r.db.ExecContext(ctx, query, c.Name, c.Phone, c.Email, c.Notes, c.ID, c.AccountID); err != nil {
		return nil, fmt.Errorf("update customer: %w", err)
	}
	return r.Get(ctx, c.AccountID, c.ID)
}

// Delete reports whether a row owned by accountID was removed.
func (r *CustomerRepository) Delete(ctx context.Context, accountID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM customers WHERE id = ? AND account_id = ?`, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete customer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("customer rows affected: %w", err)
	}
	return affected > 0, nil
}
