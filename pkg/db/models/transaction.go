package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/muzafey/storefront-backend/pkg/enums"
)

// Transaction is the audit record of one settlement attempt or admin override. Only the
// soft-delete columns are ever updated.
type Transaction struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID          uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index" json:"orderId"`
	UserID           uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index" json:"userId"`
	Amount           decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Status           enums.TransactionStatus `gorm:"column:status;type:text;not null" json:"status"`
	GatewayReference *string                 `gorm:"column:gateway_reference" json:"gatewayReference,omitempty"`
	RawResponse      json.RawMessage         `gorm:"column:raw_response;type:jsonb" json:"rawResponse,omitempty"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	IsDeleted        bool                    `gorm:"column:is_deleted;not null;default:false" json:"isDeleted"`
	DeletedAt        *time.Time              `gorm:"column:deleted_at" json:"deletedAt,omitempty"`
}
