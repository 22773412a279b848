package orders

import (
	"github.com/google/uuid"

	"github.com/muzafey/storefront-backend/pkg/db/models"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
	Email  string
	Name   string
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// RequireAdmin rejects non-admin actors.
func RequireAdmin(actor Actor) error {
	if !actor.IsAdmin() {
		return pkgerrors.New(pkgerrors.CodeForbidden, "admin role required")
	}
	return nil
}

// RequireOwnerOrAdmin rejects actors that neither placed order nor administer the shop.
func RequireOwnerOrAdmin(actor Actor, order *models.Order) error {
	if actor.IsAdmin() || (order != nil && order.UserID == actor.UserID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "not allowed to access this order")
}
