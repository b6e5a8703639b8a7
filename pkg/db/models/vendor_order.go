package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/mercanta/mercanta-backend/pkg/enums"
)

// VendorOrder is the read model the settlement engines consume. Orders are
// written by the commerce service; this service only reads them when
// computing purchase commissions.
type VendorOrder struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerUserID uuid.UUID         `gorm:"column:buyer_user_id;type:uuid;not null;index:idx_vendor_orders_buyer"`
	Status      enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	Currency    enums.Currency    `gorm:"column:currency;type:text;not null;default:'USD'"`
	TotalCents  int64             `gorm:"column:total_cents;not null"`
	Items       []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CompletedAt *time.Time        `gorm:"column:completed_at"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
