package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/muzafey/storefront-backend/pkg/enums"
)

// AccessTokenPayload is the data minted into an access token.
type AccessTokenPayload struct {
	UserID uuid.UUID
	Role   enums.Role
	Email  string
	Name   string
	JTI    string
}

// AccessTokenClaims is the JWT body issued to storefront clients.
type AccessTokenClaims struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role"`
	Email  string     `json:"email,omitempty"`
	Name   string     `json:"name,omitempty"`
	jwt.RegisteredClaims
}
