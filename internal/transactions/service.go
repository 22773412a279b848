// Package transactions exposes the payment audit trail to administrators.
package transactions

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
	"github.com/muzafey/storefront-backend/pkg/logger"
	"github.com/muzafey/storefront-backend/pkg/pagination"
)

// Service is admin-only; every method checks the caller's role.
type Service interface {
	List(ctx context.Context, role enums.Role, params pagination.Params, orderID *uuid.UUID) (*List, error)
	ListTrashed(ctx context.Context, role enums.Role, params pagination.Params) (*List, error)
	Get(ctx context.Context, role enums.Role, id uuid.UUID) (*models.Transaction, error)
	SoftDelete(ctx context.Context, role enums.Role, id uuid.UUID) error
	Restore(ctx context.Context, role enums.Role, id uuid.UUID) error
	HardDelete(ctx context.Context, role enums.Role, id uuid.UUID) error
}

// List is one page of transactions.
type List struct {
	Transactions []models.Transaction `json:"transactions"`
	NextCursor   string               `json:"nextCursor,omitempty"`
}

type service struct {
	repo Repository
	logg *logger.Logger
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("transactions repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg}, nil
}

func requireAdmin(role enums.Role) error {
	if role != enums.RoleAdmin {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}

func (s *service) List(ctx context.Context, role enums.Role, params pagination.Params, orderID *uuid.UUID) (*List, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.List(ctx, params, ListFilters{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return &List{Transactions: rows, NextCursor: next}, nil
}

func (s *service) ListTrashed(ctx context.Context, role enums.Role, params pagination.Params) (*List, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	rows, next, err := s.repo.List(ctx, params, ListFilters{Deleted: true})
	if err != nil {
		return nil, err
	}
	return &List{Transactions: rows, NextCursor: next}, nil
}

func (s *service) Get(ctx context.Context, role enums.Role, id uuid.UUID) (*models.Transaction, error) {
	if err := requireAdmin(role); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *service) SoftDelete(ctx context.Context, role enums.Role, id uuid.UUID) error {
	if err := requireAdmin(role); err != nil {
		return err
	}
	if err := s.repo.SetDeleted(ctx, id, true); err != nil {
		return err
	}
	s.logg.Info(s.logg.WithField(ctx, "transaction_id", id.String()), "transaction moved to trash")
	return nil
}

func (s *service) Restore(ctx context.Context, role enums.Role, id uuid.UUID) error {
	if err := requireAdmin(role); err != nil {
		return err
	}
	return s.repo.SetDeleted(ctx, id, false)
}

// HardDelete only removes records that are already in the trash.
func (s *service) HardDelete(ctx context.Context, role enums.Role, id uuid.UUID) error {
	if err := requireAdmin(role); err != nil {
		return err
	}
	txn, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !txn.IsDeleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "transaction must be moved to trash before permanent deletion")
	}
	if err := s.repo.HardDelete(ctx, id); err != nil {
		return err
	}
	s.logg.Warn(s.logg.WithField(ctx, "transaction_id", id.String()), "transaction permanently deleted")
	return nil
}
