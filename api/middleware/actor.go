package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/muzafey/storefront-backend/internal/orders"
	"github.com/muzafey/storefront-backend/pkg/enums"
	pkgerrors "github.com/muzafey/storefront-backend/pkg/errors"
)

// ActorFromContext rebuilds the authenticated caller seeded by Auth.
func ActorFromContext(ctx context.Context) (orders.Actor, error) {
	userID, err := uuid.Parse(UserIDFromContext(ctx))
	if err != nil {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user id missing")
	}
	role, err := enums.ParseRole(RoleFromContext(ctx))
	if err != nil {
		return orders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "role missing")
	}
	return orders.Actor{
		UserID: userID,
		Role:   role,
		Email:  EmailFromContext(ctx),
		Name:   NameFromContext(ctx),
	}, nil
}
