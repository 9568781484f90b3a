package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/digkill/salonstudio/internal/apperr"
	"github.com/digkill/salonstudio/internal/models"
)

type CustomerStore interface {
	List(ctx context.Context, accountID string) ([]models.Customer, error)
	Get(ctx context.Context, accountID, id string) (*models.Customer, error)
	Create(ctx context.Context, c *models.Customer) (*models.Customer, error)
	Update(ctx context.Context, c *models.Customer) (*models.Customer, error)
	Delete(ctx context.Context, accountID, id string) (bool, error)
}

type CustomerService struct {
	customers CustomerStore
}

func NewCustomerService(customers CustomerStore) *CustomerService {
	return &CustomerService{customers: customers}
}

type CustomerInput struct {
	Name  *string `json:"name" validate:"omitempty,max=255"`
	Phone *string `json:"phone" validate:"omitempty,max=64"`
	Email *string `json:"email" validate:"omitempty,max=255,email"`
	Notes *string `json:"notes" validate:"omitempty,max=4000"`
}

func (s *CustomerService) List(ctx context.Context, accountID string) ([]models.Customer, error) {
	list, err := s.customers.List(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	return list, nil
}

func (s *CustomerService) Get(ctx context.Context, accountID, id string) (*models.Customer, error) {
	c, err := s.customers.Get(ctx, accountID, id)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	if c == nil {
		return nil, apperr.NotFound("customer")
	}
	return c, nil
}

func (s *CustomerService) Create(ctx context.Context, accountID string, input CustomerInput) (*models.Customer, error) {
	c := &models.Customer{AccountID: accountID}
	apply(c, input)
	if c.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	return s.customers.Create(ctx, c)
}

func (s *CustomerService) Update(ctx context.Context, accountID, id string, input CustomerInput) (*models.Customer, error) {
	c, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	apply(c, input)
	if c.Name == "" {
		return nil, apperr.Validation("name cannot be empty")
	}
	return s.customers.Update(ctx, c)
}

func (s *CustomerService) Delete(ctx context.Context, accountID, id string) error {
	ok, err := s.customers.Delete(ctx, accountID, id)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if !ok {
		return apperr.NotFound("customer")
	}
	return nil
}

func apply(c *models.Customer, input CustomerInput) {
	if input.Name != nil {
		c.Name = strings.TrimSpace(*input.Name)
	}
	if input.Phone != nil {
		c.Phone = strings.TrimSpace(*input.Phone)
	}
	if input.Email != nil {
		c.Email = strings.TrimSpace(*input.Email)
	}
	if input.Notes != nil {
		c.Notes = *input.Notes
	}
}
